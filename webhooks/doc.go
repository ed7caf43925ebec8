// Package webhooks receives push-provider deliveries.
//
// Each delivery is verified, claimed in a DeliveryLedger and then handed to
// a Handler. Claims move processing -> processed|retry_ready|dead, so a
// delivery whose handler failed is processed again when the sender retries.
package webhooks
