// Package tracking provides a minimal MLflow REST client.
//
// Only the calls needed to open and close runs and to record parameters and
// metrics are implemented:
//
//	client := tracking.NewClient("http://localhost:5000")
//
//	expID, err := client.EnsureExperiment(ctx, "Test_Basic")
//	run, err := client.CreateRun(ctx, tracking.CreateRunRequest{
//	    ExperimentID: expID,
//	    RunName:      "train",
//	})
//	err = client.LogParam(ctx, run.RunID, "lr", "0.01")
//	err = client.LogMetric(ctx, run.RunID, "acc", 0.9, time.Now(), 0)
//	_, err = client.UpdateRun(ctx, run.RunID, tracking.RunStatusFinished, time.Now())
//
// Server errors are returned as *APIError; use IsNotFound to detect
// RESOURCE_DOES_NOT_EXIST responses.
package tracking
