package model

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func sampleValues() []float64 {
	return []float64{12, 18, 25, 31, 28, 22, 15, 11, 9, 14, 20, 27}
}

func runEpochs(t *testing.T, chunks int, seed int64, epochs int) ([]float64, State) {
	t.Helper()
	tr, err := NewTrainer(RadiusVariance, sampleValues(), chunks, seed)
	if err != nil {
		t.Fatalf("NewTrainer() error = %v", err)
	}
	losses := make([]float64, 0, epochs)
	for i := 0; i < epochs; i++ {
		loss, err := tr.Epoch()
		if err != nil {
			t.Fatalf("Epoch() error = %v", err)
		}
		losses = append(losses, loss)
	}
	return losses, tr.State()
}

func TestDeterministicAcrossRuns(t *testing.T) {
	lossesA, stateA := runEpochs(t, 3, 42, 20)
	lossesB, stateB := runEpochs(t, 3, 42, 20)

	if diff := cmp.Diff(lossesA, lossesB); diff != "" {
		t.Errorf("loss history differs between identical runs:\n%s", diff)
	}
	if diff := cmp.Diff(stateA, stateB); diff != "" {
		t.Errorf("final state differs between identical runs:\n%s", diff)
	}
}

func TestSeedChangesTrajectory(t *testing.T) {
	lossesA, _ := runEpochs(t, 3, 1, 5)
	lossesB, _ := runEpochs(t, 3, 2, 5)

	if cmp.Equal(lossesA, lossesB) {
		t.Error("different seeds produced identical loss histories")
	}
}

func TestLossConverges(t *testing.T) {
	losses, _ := runEpochs(t, 2, 7, 50)

	if losses[len(losses)-1] >= losses[0] {
		t.Errorf("loss did not improve: first=%f last=%f", losses[0], losses[len(losses)-1])
	}
}

func TestChunkCountAffectsFit(t *testing.T) {
	// More chunks means finer centers and a lower floor for the same data.
	lossesOne, _ := runEpochs(t, 1, 3, 100)
	lossesMany, _ := runEpochs(t, 4, 3, 100)

	if lossesMany[len(lossesMany)-1] >= lossesOne[len(lossesOne)-1] {
		t.Errorf("expected finer partitioning to fit better: 1-chunk=%f 4-chunk=%f",
			lossesOne[len(lossesOne)-1], lossesMany[len(lossesMany)-1])
	}
}

func TestPartitionCoversAllValues(t *testing.T) {
	values := sampleValues()
	chunks := partition(values, 5)

	if len(chunks) != 5 {
		t.Fatalf("got %d chunks, want 5", len(chunks))
	}
	var total int
	for _, c := range chunks {
		total += len(c)
	}
	if total != len(values) {
		t.Errorf("partition dropped values: %d of %d", total, len(values))
	}
}

func TestNewTrainerRejectsBadInputs(t *testing.T) {
	if _, err := NewTrainer("frobnicator", sampleValues(), 1, 1); err == nil {
		t.Error("expected error for unknown variant")
	}
	if _, err := NewTrainer(RadiusVariance, sampleValues(), 0, 1); err == nil {
		t.Error("expected error for zero chunk count")
	}
	if _, err := NewTrainer(RadiusVariance, nil, 1, 1); err == nil {
		t.Error("expected error for empty dataset")
	}
	if _, err := NewTrainer(RadiusVariance, []float64{1, 2}, 3, 1); err == nil {
		t.Error("expected error when chunks exceed rows")
	}
}
