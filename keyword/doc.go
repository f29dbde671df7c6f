// Package keyword contains the default core.KeywordExtractor
// implementation: a frequency-based term extractor with latin stopword
// filtering and CJK bigram handling. It is deterministic and dependency-free
// so tests and local deployments work without an external extraction
// service; swap in a smarter extractor at wiring time for production
// retrieval quality.
package keyword
