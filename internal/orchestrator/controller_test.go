package orchestrator

import (
	"context"
	"log/slog"
	"testing"
)

func TestProgrammaticControllerStartStopImu(t *testing.T) {
	hub := NewHub(slog.Default())
	imu := NewImuClient(hub, slog.Default())
	handler := NewHandler(imu)
	pipeline := NewPipeline(handler, hub, slog.Default())

	ctrl := NewProgrammaticController("programmatic")
	ctrl.attachPipeline(pipeline)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pipeline.Start(ctx)
	defer pipeline.Stop()

	result, err := ctrl.StartImu(context.Background(), "")
	if err != nil {
		t.Fatalf("StartImu: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("status = %s, want Success", result.Status)
	}

	stopResult, err := ctrl.StopImu(context.Background())
	if err != nil {
		t.Fatalf("StopImu: %v", err)
	}
	if stopResult.Status != StatusSuccess {
		t.Fatalf("stop status = %s, want Success", stopResult.Status)
	}
}

func TestProgrammaticControllerRequiresAttachedPipeline(t *testing.T) {
	ctrl := NewProgrammaticController("programmatic")

	if _, err := ctrl.StartImu(context.Background(), ""); err == nil {
		t.Fatal("expected error when no pipeline is attached")
	}
}

func TestProgrammaticControllerDetachPipelineClearsReference(t *testing.T) {
	hub := NewHub(slog.Default())
	imu := NewImuClient(hub, slog.Default())
	handler := NewHandler(imu)
	pipeline := NewPipeline(handler, hub, slog.Default())

	ctrl := NewProgrammaticController("programmatic")
	ctrl.attachPipeline(pipeline)
	ctrl.detachPipeline()

	if _, err := ctrl.StartImu(context.Background(), ""); err == nil {
		t.Fatal("expected error after detachPipeline")
	}
}

func TestProgrammaticControllerIDAndLifecycle(t *testing.T) {
	ctrl := NewProgrammaticController("my-id")
	if ctrl.ID() != "my-id" {
		t.Errorf("ID() = %q, want %q", ctrl.ID(), "my-id")
	}
	if !ctrl.Start(context.Background()) {
		t.Error("Start() should always return true")
	}
	if err := ctrl.Stop(); err != nil {
		t.Errorf("Stop() = %v, want nil", err)
	}
}
