// Package modality contains the default core.ModalityNormalizer
// implementation. It converts raw attachment payloads (decoded JSON maps)
// into typed core.Modality values, deep-copying every field so engine
// records never alias caller-owned data.
package modality
