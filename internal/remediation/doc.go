// Package remediation contains the orchestration core: job types and store,
// repository resolution, and the Service that runs the remediation pipeline
// (entity -> repository -> evidence -> report -> draft PR) asynchronously per
// submitted job.
package remediation
