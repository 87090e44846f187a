package tracing

import (
	"context"
	"errors"
	"testing"
)

func TestChildSpansInheritTrace(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "task", "task-1")
	_, split := StartChildSpan(ctx, "split")
	split.SetAttr("groups", 2)
	split.End()
	_, extract := StartChildSpan(ctx, "extract")
	extract.EndErr(errors.New("ocr failed"))
	root.End()

	if len(root.Children) != 2 {
		t.Fatalf("children = %d, want 2", len(root.Children))
	}
	for _, c := range root.Children {
		if c.TraceID != "task-1" {
			t.Errorf("child %s trace id = %q", c.Name, c.TraceID)
		}
	}
	if extract.Err == nil {
		t.Error("expected error recorded on extract span")
	}
	if SpanFromContext(context.Background()) != nil {
		t.Error("expected nil span for bare context")
	}
}

func TestSamplerDisabledIsNoop(t *testing.T) {
	_, root := StartSpan(context.Background(), "task", "t")
	root.End()
	Sampler{Enabled: false}.Finish(root)
	Sampler{Enabled: true, Rate: 1}.Finish(root)
	Sampler{Enabled: true}.Finish(nil)
}
