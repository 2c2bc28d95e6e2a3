// Package fakes provides test doubles for the cloud clients and capability
// probes bootcfg talks to.
//
// Fakes are manually implemented (not generated) to give tests precise
// control over pagination, missing secrets and injected failures.
//
// Usage:
//
//	client := fakes.NewFakeSSMClient()
//	client.AddParameter("/app/REDIS_HOST", "cache.internal")
//	src := envsource.NewAWSSSM("/app", envsource.AWSConfig{}, envsource.WithSSMClient(client))
//	vars, err := src.Load(ctx)
package fakes
