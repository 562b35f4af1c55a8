// Package writers turns classification results into serialized outputs.
//
// Design:
//   - Writers own all presentation knowledge (TSV columns, JSONL, SQLite schema).
//   - The classifier stays domain-only; dispatch stays orchestration-only.
//   - JSONL goes through pkg/api (v1) for a stable wire format.
package writers
