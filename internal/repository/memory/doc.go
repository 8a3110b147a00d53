// Package memory provides in-process implementations of every service
// repository. They back the "memory" storage type for single-process
// deployments and are used by the service tests.
package memory
