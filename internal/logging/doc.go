// Package logging sets up structured JSON logging for amanrag.
//
// Logs go to a size-rotated file under ~/.amanrag/logs/ and, unless the
// process speaks a protocol on stdio (MCP mode), are teed to stderr.
// Pipeline degradations (expansion, rerank, classification) are logged at
// warn level with the query, stage and reason attached.
package logging
