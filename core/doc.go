// Package core holds the wearables domain model, the provider capability
// contract, the provider registry, and connection orchestration. Provider
// adapters, stores and transports depend on this package; core never depends
// on a specific provider.
package core
