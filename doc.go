// Package mlflowbox records function runs on an MLflow tracking server.
//
// A [Tracker] holds the server endpoints explicitly instead of relying on
// process-wide client state. [Track] and [Wrap] open a run around a call,
// log whatever the call reports and always close the run:
//
//	tracker := mlflowbox.NewTracker(mlflowbox.TrackerConfigFromEnv())
//
//	train := mlflowbox.Wrap(tracker, trainModel, mlflowbox.WithExperiment("Test_Decorator"))
//	result, err := train(ctx, hyperparams)
//
// A tracked function reports through its result. When the result is a map
// with a "params" and/or "metrics" key, each pair under those keys is
// logged; any other result is returned untouched and nothing is logged.
//
// The container subpackage runs the tracking server itself.
package mlflowbox
