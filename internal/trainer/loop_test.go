package trainer

import (
	"context"
	"encoding/csv"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/oceanlens/uwagg/internal/config"
	"github.com/oceanlens/uwagg/internal/data"
	"github.com/oceanlens/uwagg/internal/net"
	"github.com/oceanlens/uwagg/internal/opt"
	"github.com/oceanlens/uwagg/internal/tensor"
	"github.com/oceanlens/uwagg/internal/track"
)

func writePNG(t *testing.T, path string, w, h int, seed int64) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: 255,
			})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func writePairTree(t *testing.T, dir string, pairs, w, h int) {
	t.Helper()
	for i := 0; i < pairs; i++ {
		name := fmt.Sprintf("pair_%d.png", i)
		writePNG(t, filepath.Join(dir, "input", name), w, h, int64(i))
		writePNG(t, filepath.Join(dir, "target", name), w, h, int64(i+100))
	}
}

func TestRunTrainsAndCheckpoints(t *testing.T) {
	if testing.Short() {
		t.Skip("end-to-end training in short mode")
	}
	root := t.TempDir()
	trainDir := filepath.Join(root, "train")
	valDir := filepath.Join(root, "val")
	writePairTree(t, trainDir, 2, 20, 20)
	writePairTree(t, valDir, 2, 20, 20)
	saveDir := filepath.Join(root, "ckpt")
	metricsPath := filepath.Join(root, "metrics.csv")

	cfg := &config.Config{}
	cfg.Model.Film = true
	cfg.Model.Channels = 8
	cfg.Model.BackboneWeights = "injected"
	cfg.Optim = config.Optim{BatchSize: 2, NumEpochs: 2, LRInitial: 1e-3, LRMin: 1e-5, Seed: 7}
	cfg.Training = config.Training{
		TrainDir: trainDir, ValDir: valDir, SaveDir: saveDir,
		ValAfterEvery: 1, PSW: 16, PSH: 16, Workers: 2, Replicas: 1,
	}
	cfg.Testing = config.Testing{PSW: 16, PSH: 16}
	cfg.Tracking = config.Tracking{Path: metricsPath, Run: "uw"}

	bb, model := newTestModel(t)
	if err := run(context.Background(), cfg, bb, model); err != nil {
		t.Fatalf("run: %v", err)
	}

	ckpts, err := filepath.Glob(filepath.Join(saveDir, "enhancer_epoch_*.ckpt"))
	if err != nil {
		t.Fatal(err)
	}
	if len(ckpts) == 0 {
		t.Fatal("no checkpoints written")
	}
	ck, err := net.LoadCheckpoint(ckpts[0])
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if len(ck.Params) != len(model.Params()) {
		t.Errorf("checkpoint holds %d params, model has %d", len(ck.Params), len(model.Params()))
	}

	f, err := os.Open(metricsPath)
	if err != nil {
		t.Fatalf("metrics log: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Errorf("metrics log has %d rows, want header plus 2", len(rows))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	if testing.Short() {
		t.Skip("end-to-end training in short mode")
	}
	root := t.TempDir()
	trainDir := filepath.Join(root, "train")
	valDir := filepath.Join(root, "val")
	writePairTree(t, trainDir, 2, 20, 20)
	writePairTree(t, valDir, 1, 20, 20)

	cfg := &config.Config{}
	cfg.Model.Film = true
	cfg.Model.Channels = 8
	cfg.Optim = config.Optim{BatchSize: 1, NumEpochs: 100, LRInitial: 1e-3, Seed: 7}
	cfg.Training = config.Training{
		TrainDir: trainDir, ValDir: valDir, SaveDir: filepath.Join(root, "ckpt"),
		ValAfterEvery: 100, PSW: 16, PSH: 16, Workers: 1, Replicas: 1,
	}
	cfg.Testing = config.Testing{PSW: 16, PSH: 16}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bb, model := newTestModel(t)
	if err := run(ctx, cfg, bb, model); err == nil {
		t.Error("run ignored a cancelled context")
	}
}

func TestValidateCheckpointsOnlyOnImprovement(t *testing.T) {
	if testing.Short() {
		t.Skip("full validation passes in short mode")
	}
	root := t.TempDir()
	valDir := filepath.Join(root, "val")
	writePairTree(t, valDir, 1, 20, 20)
	valSet, err := data.Open(valDir, true, data.Crop{W: 16, H: 16})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	bb, model := newTestModel(t)
	fs := &fakeStore{}
	st := &runState{
		valSet:  valSet,
		rs:      newReplicaSet(model, bb, opt.NewAdamW(1e-3), 1),
		store:   fs,
		tracker: track.New("", "uw", "PSNR", "SSIM"),
		best:    math.Inf(-1),
	}

	if err := st.validate(context.Background(), 1); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if fs.saves != 1 {
		t.Fatalf("first validation saved %d checkpoints, want 1", fs.saves)
	}

	// Unchanged parameters score the same PSNR, which is not a strict
	// improvement.
	if err := st.validate(context.Background(), 2); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if fs.saves != 1 {
		t.Errorf("identical validation saved again (%d saves)", fs.saves)
	}
}

type fakeStore struct {
	saves int
}

func (f *fakeStore) Save(ck *net.Checkpoint) (string, error) {
	f.saves++
	return fmt.Sprintf("mem-%d", ck.Epoch), nil
}

func TestFitToTargetResizesOnlyWhenNeeded(t *testing.T) {
	pred := tensor.New(1, 3, 10, 15)
	target := tensor.New(1, 3, 12, 18)
	got := fitToTarget(pred, target)
	if got.H != 12 || got.W != 18 {
		t.Errorf("resized to %dx%d, want 18x12", got.W, got.H)
	}

	same := tensor.New(1, 3, 12, 18)
	if fitToTarget(same, target) != same {
		t.Error("matching frames should pass through untouched")
	}
}

func TestClamp01(t *testing.T) {
	x := tensor.New(1, 1, 1, 3)
	x.Data[0], x.Data[1], x.Data[2] = -0.5, 0.25, 1.5
	clamp01(x)
	want := []float64{0, 0.25, 1}
	for i := range want {
		if x.Data[i] != want[i] {
			t.Errorf("Data[%d] = %v, want %v", i, x.Data[i], want[i])
		}
	}
}
