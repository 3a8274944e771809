// Package fakes provides test doubles for the AWS clients kmsenv talks to.
//
// Fakes are manually implemented (not generated) to provide precise control
// over test behavior.
//
// Usage:
//
//	fake := fakes.NewFakeKMSClient()
//	fake.AddKey("arn:aws:kms:eu-west-1:123456789012:key/1234abcd", "alias/app")
//	adapter, _ := kms.NewAWSAdapter(ctx, awsclient.Options{}, kms.WithClient(fake))
//	// Test adapter or store methods...
package fakes
