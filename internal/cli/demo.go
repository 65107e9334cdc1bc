package cli

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/spf13/cobra"

	"github.com/everydev1618/mlflowbox"
	"github.com/everydev1618/mlflowbox/tracking"
)

const (
	demoExperiment  = "Test_Decorator"
	smokeExperiment = "Test_Basic"
)

// trainingConfig holds the demo model's hyperparameters.
type trainingConfig struct {
	LearningRate float64
	Epochs       int
}

// trainModel pretends to train a model and reports what it used and how it
// did.
func trainModel(_ context.Context, cfg trainingConfig) (mlflowbox.Result, error) {
	accuracy := 0.85 + rand.Float64()*0.14
	loss := 0.01 + rand.Float64()*0.09

	return mlflowbox.Result{
		"params": map[string]any{
			"learning_rate": cfg.LearningRate,
			"epochs":        cfg.Epochs,
		},
		"metrics": map[string]float64{
			"accuracy": accuracy,
			"loss":     loss,
		},
	}, nil
}

// NewDemoCmd creates the demo command
func NewDemoCmd(app *App) *cobra.Command {
	var (
		lr     float64
		epochs int
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Track a sample training function against the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}
			tracker, cleanup := app.tracker(cfg)
			defer cleanup()

			out := cmd.OutOrStdout()
			printServerConfig(out, tracker.ServerConfig())

			train := mlflowbox.Wrap(tracker, trainModel, mlflowbox.WithExperiment(demoExperiment))
			result, err := train(cmd.Context(), trainingConfig{LearningRate: lr, Epochs: epochs})
			if err != nil {
				return err
			}

			metrics, _ := result["metrics"].(map[string]float64)
			fmt.Fprintf(out, "%s accuracy=%.4f loss=%.4f\n", okMark, metrics["accuracy"], metrics["loss"])
			fmt.Fprintln(out, "Done!")
			return nil
		},
	}

	cmd.Flags().Float64Var(&lr, "lr", 0.001, "Learning rate")
	cmd.Flags().IntVar(&epochs, "epochs", 20, "Epochs")
	return cmd
}

// NewSmokeCmd creates the smoke command
func NewSmokeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "smoke",
		Short: "Log one parameter and one metric to check the server works",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}
			tracker, cleanup := app.tracker(cfg)
			defer cleanup()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Using MLflow tracking URI: %s\n", tracker.Config().TrackingURI)

			run, err := tracker.StartRun(ctx, mlflowbox.WithExperiment(smokeExperiment), mlflowbox.WithRunName("smoke"))
			if err != nil {
				return err
			}
			defer func() {
				status := tracking.RunStatusFinished
				if err != nil {
					status = tracking.RunStatusFailed
				}
				err = errors.Join(err, run.End(context.WithoutCancel(ctx), status))
			}()

			paramValue := rand.IntN(100) + 1
			if err := run.LogParam(ctx, "sample_param", paramValue); err != nil {
				return err
			}
			metricValue := rand.Float64()
			if err := run.LogMetric(ctx, "sample_metric", metricValue); err != nil {
				return err
			}

			fmt.Fprintf(out, "Logged Param: sample_param=%d\n", paramValue)
			fmt.Fprintf(out, "Logged Metric: sample_metric=%v\n", metricValue)
			fmt.Fprintf(out, "%s MLflow test completed successfully.\n", okMark)
			return nil
		},
	}
}
