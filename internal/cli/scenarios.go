package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/harun/valiqor/pkg/trace"
)

// scenario records a synthetic workflow into the active session
type scenario struct {
	metadata func(id string) []trace.Field
	run      func(ctx context.Context, tr *trace.Trace, out io.Writer) error
}

// scenarios maps a scenario id to its workflow. Unknown ids run the demo
// workflow labelled with the given id.
var scenarios = map[string]scenario{
	"demo": {metadata: scenarioLabel, run: runDemoScenario},
	"rag":  {metadata: ragMetadata, run: runRAGScenario},
}

const ragQuery = "What were the key financial highlights for Q3 2024?"

func lookupScenario(id string) scenario {
	if s, ok := scenarios[id]; ok {
		return s
	}
	return scenarios["demo"]
}

func scenarioLabel(id string) []trace.Field {
	return []trace.Field{trace.F("scenario", id)}
}

func ragMetadata(id string) []trace.Field {
	return []trace.Field{
		trace.F("scenario", id),
		trace.F("query", ragQuery),
		trace.F("user", "demo_user"),
	}
}

func runDemoScenario(_ context.Context, tr *trace.Trace, _ io.Writer) error {
	if err := tr.AddSpan("llm.call",
		trace.F("model", "gpt-4"),
		trace.F("provider", "openai"),
		trace.F("prompt", "Analyze Q3 revenue for ACME Corp"),
		trace.F("response", "Q3 revenue shows 15% growth..."),
		trace.F("input_tokens", 120),
		trace.F("output_tokens", 85),
		trace.F("latency_ms", 1250),
		trace.F("cost_usd", 0.0045),
	); err != nil {
		return err
	}

	if err := tr.AddSpan("tool.normalize_currency",
		trace.F("input", map[string]any{"amount": "$1.5M", "target": "USD"}),
		trace.F("output", map[string]any{"normalized": 1500000, "currency": "USD"}),
		trace.F("latency_ms", 45),
	); err != nil {
		return err
	}

	return tr.AddSpan("judge.reason",
		trace.F("evaluation", "correct"),
		trace.F("confidence", 0.95),
		trace.F("reason", "Response accurately reflects financial data"),
		trace.F("latency_ms", 380),
	)
}

func runRAGScenario(_ context.Context, tr *trace.Trace, out io.Writer) error {
	fmt.Fprintln(out, "Retrieving relevant documents...")
	if err := tr.AddSpan("rag.retrieval",
		trace.F("query", ragQuery),
		trace.F("retriever", "vectordb"),
		trace.F("embedding_model", "text-embedding-3-small"),
		trace.F("top_k", 5),
		trace.F("documents_retrieved", 5),
		trace.F("latency_ms", 234),
		trace.F("top_scores", []float64{0.89, 0.85, 0.82, 0.79, 0.75}),
	); err != nil {
		return err
	}

	fmt.Fprintln(out, "Generating response...")
	if err := tr.AddSpan("llm.call",
		trace.F("model", "gpt-4"),
		trace.F("provider", "openai"),
		trace.F("prompt_template", "Answer based on: {context}\n\nQuestion: {query}"),
		trace.F("context_length", 3500),
		trace.F("input_tokens", 850),
		trace.F("output_tokens", 320),
		trace.F("latency_ms", 2100),
		trace.F("cost_usd", 0.0087),
		trace.F("response", "Q3 2024 showed strong performance with 18% revenue growth..."),
	); err != nil {
		return err
	}

	fmt.Fprintln(out, "Extracting citations...")
	if err := tr.AddSpan("tool.extract_citations",
		trace.F("input_docs", 5),
		trace.F("citations_found", 3),
		trace.F("latency_ms", 85),
	); err != nil {
		return err
	}

	fmt.Fprintln(out, "Evaluating response quality...")
	return tr.AddSpan("judge.evaluate",
		trace.F("metric", "relevance"),
		trace.F("score", 0.92),
		trace.F("reasoning", "Response directly addresses query with specific data"),
		trace.F("latency_ms", 420),
	)
}
