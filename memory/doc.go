// Package memory provides session-scoped conversational memory.
//
// Every message is embedded and appended to a per-session log. When a new
// query arrives, a Selector picks a bounded context window from the most
// recent messages: the latest exchange is always kept, the rest is ranked by
// semantic similarity to the query, and the result is re-ordered
// chronologically before being formatted for the prompt.
//
// Architecture:
//   - MessageStore: the append-only message log (SQLite in store/sqlite)
//   - VectorStore: named collections of embedded documents (chromem-go in store/chromem)
//   - Embedder: text-to-vector conversion (ONNX, Ollama, Gemini or a deterministic mock)
//   - ConversationManager: retrieval before a turn, recording and purging after it
//
// Failures never abort a turn. A failed embedding is stored as a zero vector
// of the embedder's dimension, and a failed lookup yields an empty context.
package memory
