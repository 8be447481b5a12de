package mcp

import (
	"encoding/json"
	"testing"

	"docrag/pkg/store"
)

func TestNewAssignsTraceID(t *testing.T) {
	a := New("retriever", "reranker", RetrievalResult{Query: "q"})
	b := New("retriever", "reranker", RetrievalResult{Query: "q"})
	if a.TraceID == "" {
		t.Fatal("empty trace id")
	}
	if a.TraceID == b.TraceID {
		t.Error("two messages share a trace id")
	}
	if a.Type != TypeRetrievalResult {
		t.Errorf("type = %q, want %q", a.Type, TypeRetrievalResult)
	}
}

func TestTraceThreading(t *testing.T) {
	first := New("ingester", "retriever", IngestionResult{CorpusID: "report", Chunks: 12})

	fwd := first.Forward("reranker", RerankResult{Query: "q"})
	if fwd.TraceID != first.TraceID {
		t.Error("Forward() broke the trace")
	}
	if fwd.Sender != "retriever" || fwd.Receiver != "reranker" {
		t.Errorf("Forward() addressing = %s -> %s", fwd.Sender, fwd.Receiver)
	}

	reply := first.Reply("retriever", ErrorPayload{Stage: "retrieve", Err: "index missing"})
	if reply.TraceID != first.TraceID {
		t.Error("Reply() broke the trace")
	}
	if reply.Receiver != "ingester" {
		t.Errorf("Reply() receiver = %s, want the original sender", reply.Receiver)
	}
}

func TestMessageJSONRoundtrip(t *testing.T) {
	chunk := &store.Chunk{Content: "revenue grew", Source: "report.pdf p. 3"}
	chunk.SetScore(store.ScoreSimilarity, 0.9)

	msg := New("retriever", "reranker", RetrievalResult{Query: "revenue", Chunks: []*store.Chunk{chunk}})
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if got.TraceID != msg.TraceID {
		t.Error("trace id lost in roundtrip")
	}
	payload, ok := got.Payload.(*RetrievalResult)
	if !ok {
		t.Fatalf("payload type = %T", got.Payload)
	}
	if payload.Query != "revenue" || len(payload.Chunks) != 1 {
		t.Errorf("payload = %+v", payload)
	}
	if payload.Chunks[0].Score(store.ScoreSimilarity) != 0.9 {
		t.Error("chunk scores lost in roundtrip")
	}
}

func TestMessageUnknownTypeRejected(t *testing.T) {
	raw := `{"sender":"a","receiver":"b","type":"BOGUS","trace_id":"t","payload":{}}`
	var got Message
	if err := json.Unmarshal([]byte(raw), &got); err == nil {
		t.Error("unknown type decoded without error")
	}
}
