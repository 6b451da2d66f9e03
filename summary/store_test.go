package summary

import (
	"math"
	"path/filepath"
	"testing"
)

func TestStoreScalars(t *testing.T) {
	st, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer st.Close()

	if err := st.AddScalar("loss", 1, 0.3); err == nil {
		t.Fatal("AddScalar before StartRun should fail")
	}
	id, err := st.StartRun(map[string]any{"se_type": "GRU"})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" || st.RunID() != id {
		t.Fatalf("run id %q / %q", id, st.RunID())
	}
	for step, v := range []float64{0.4, -0.8, math.NaN()} {
		if err := st.AddScalar("loss", step+1, v); err != nil {
			t.Fatal(err)
		}
	}
	got, err := st.Scalars(id, "loss")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d scalars, want 3", len(got))
	}
	if got[0].Step != 1 || got[0].Value != 0.4 || got[1].Value != -0.8 {
		t.Fatalf("unexpected scalars %+v", got)
	}
	if !math.IsNaN(got[2].Value) {
		t.Fatalf("non-finite value should read back as NaN, got %v", got[2].Value)
	}
	if err := st.FinishRun(3); err != nil {
		t.Fatal(err)
	}
	runs, err := st.Runs()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != id || runs[0].Steps != 3 || !runs[0].EndedAt.Valid {
		t.Fatalf("unexpected runs %+v", runs)
	}
}

func TestStoreOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.db")
	st, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	id, err := st.StartRun(struct{ LR float64 }{0.001})
	if err != nil {
		t.Fatal(err)
	}
	if err := st.AddScalar("loss", 7, 1.5); err != nil {
		t.Fatal(err)
	}
	st.Close()

	st, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	got, err := st.Scalars(id, "loss")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Step != 7 || got[0].Value != 1.5 {
		t.Fatalf("scalars did not survive reopening: %+v", got)
	}
}
