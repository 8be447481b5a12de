// Package mcp defines the messages passed between pipeline stages. Each
// stage boundary produces a fresh message carrying a typed payload and a
// trace ID that follows a request through the whole pipeline.
package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"docrag/pkg/store"
)

// Type discriminates message payloads.
type Type string

const (
	TypeIngestionResult Type = "INGESTION_RESULT"
	TypeRetrievalResult Type = "RETRIEVAL_RESULT"
	TypeRerankResult    Type = "RERANK_RESULT"
	TypeAnswerResult    Type = "ANSWER_RESULT"
	TypeError           Type = "ERROR"
)

// Payload is implemented by all message payload types.
type Payload interface {
	Type() Type
}

// IngestionResult reports a completed ingestion.
type IngestionResult struct {
	CorpusID string   `json:"corpus_id"`
	Chunks   int      `json:"chunks"`
	Sources  []string `json:"sources,omitempty"`
}

func (IngestionResult) Type() Type { return TypeIngestionResult }

// RetrievalResult carries retrieved candidates toward reranking.
type RetrievalResult struct {
	Query  string         `json:"query"`
	Chunks []*store.Chunk `json:"retrieved_context"`
}

func (RetrievalResult) Type() Type { return TypeRetrievalResult }

// RerankResult carries the final ranked context toward answering.
type RerankResult struct {
	Query  string         `json:"query"`
	Chunks []*store.Chunk `json:"reranked_context"`
}

func (RerankResult) Type() Type { return TypeRerankResult }

// AnswerResult is the pipeline's terminal payload.
type AnswerResult struct {
	Query   string   `json:"query"`
	Answer  string   `json:"answer"`
	Sources []string `json:"sources,omitempty"`
}

func (AnswerResult) Type() Type { return TypeAnswerResult }

// ErrorPayload reports a stage failure without killing the trace.
type ErrorPayload struct {
	Stage string `json:"stage"`
	Err   string `json:"error"`
}

func (ErrorPayload) Type() Type { return TypeError }

// Message is one hop between two pipeline stages. Messages are values;
// stages never mutate one they received.
type Message struct {
	Sender   string  `json:"sender"`
	Receiver string  `json:"receiver"`
	Type     Type    `json:"type"`
	TraceID  string  `json:"trace_id"`
	Payload  Payload `json:"payload"`
}

// New creates a message with a fresh trace ID.
func New(sender, receiver string, payload Payload) Message {
	return NewWithTrace(sender, receiver, uuid.NewString(), payload)
}

// NewWithTrace creates a message continuing an existing trace. An empty
// traceID starts a new one.
func NewWithTrace(sender, receiver, traceID string, payload Payload) Message {
	if traceID == "" {
		traceID = uuid.NewString()
	}
	return Message{
		Sender:   sender,
		Receiver: receiver,
		Type:     payload.Type(),
		TraceID:  traceID,
		Payload:  payload,
	}
}

// Reply creates a message back along the trace with a new payload.
func (m Message) Reply(sender string, payload Payload) Message {
	return NewWithTrace(sender, m.Sender, m.TraceID, payload)
}

// Forward passes the trace on to the next stage with a new payload.
func (m Message) Forward(receiver string, payload Payload) Message {
	return NewWithTrace(m.Receiver, receiver, m.TraceID, payload)
}

type wireMessage struct {
	Sender   string          `json:"sender"`
	Receiver string          `json:"receiver"`
	Type     Type            `json:"type"`
	TraceID  string          `json:"trace_id"`
	Payload  json.RawMessage `json:"payload"`
}

// UnmarshalJSON decodes the payload according to the type tag.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	var payload Payload
	switch w.Type {
	case TypeIngestionResult:
		payload = &IngestionResult{}
	case TypeRetrievalResult:
		payload = &RetrievalResult{}
	case TypeRerankResult:
		payload = &RerankResult{}
	case TypeAnswerResult:
		payload = &AnswerResult{}
	case TypeError:
		payload = &ErrorPayload{}
	default:
		return fmt.Errorf("mcp: unknown message type %q", w.Type)
	}
	if len(w.Payload) > 0 {
		if err := json.Unmarshal(w.Payload, payload); err != nil {
			return fmt.Errorf("mcp: decoding %s payload: %w", w.Type, err)
		}
	}

	m.Sender = w.Sender
	m.Receiver = w.Receiver
	m.Type = w.Type
	m.TraceID = w.TraceID
	m.Payload = payload
	return nil
}
