// Package container runs the MLflow tracking server as a singleton Docker
// container.
//
// The container always carries the reserved name [ContainerName]. Starting
// it removes any previous container with that name, binds the host data
// directory at [DataMountPath] and publishes the server port on the host.
// After start the live mount list is checked against the requested data
// directory and the outcome is reported as a [MountVerification].
//
// Basic usage:
//
//	mgr, err := container.NewManager()
//	if err != nil {
//	    return err
//	}
//	defer mgr.Close()
//
//	dep, err := mgr.EnsureRunning(ctx, container.Spec{
//	    HostPort: 5000,
//	    DataDir:  "~/mlflow_data",
//	})
package container
