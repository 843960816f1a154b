// Package registry implements the central typed key-value store,
// append-only log, and classifier-blob holder described in spec §4.9
// and §6. The closed key set and its list/scalar split are grounded on
// original_source's Registry.allowedKeys.
package registry

import "fmt"

// Key is one of the closed set of registry entries. Unknown keys are
// rejected at the Get/Set/Remove boundary (spec §4.9: "unknown keys
// raise a validation error").
type Key string

const (
	DataProviderIP              Key = "DATA_PROVIDER_IP"
	ThresholdingIP              Key = "THRESHOLDING_IP"
	GatewayIP                   Key = "GATEWAY_IP"
	PixelClassificationWorkerIPs Key = "PIXEL_CLASSIFICATION_WORKER_IPS"
	CacheIP                      Key = "CACHE_IP"
	MessageBrokerIP              Key = "MESSAGE_BROKER_IP"
	PCFeatures                   Key = "PC_FEATURES"
	PCRandomForest                Key = "PC_RANDOM_FOREST"
	ThresholdValue                Key = "THRESHOLD_VALUE"
	ThresholdChannel              Key = "THRESHOLD_CHANNEL"
	ThresholdSigmas               Key = "THRESHOLD_SIGMAS"
	BlockSize                     Key = "BLOCKSIZE"
	// EstimatedComputeTimeMS is accepted and stored but read by no
	// service in this module; the cache's placeholder TTL comes from the
	// cache service's --placeholder-ttl flag. Not present in the
	// original source.
	EstimatedComputeTimeMS Key = "ESTIMATED_COMPUTE_TIME_MS"
	// Log is the append-only log list (spec §3, §4.9).
	Log Key = "LOG"
)

// listValued is the set of keys whose Get returns a sequence and whose
// Set appends rather than replaces (spec §3: "Only the worker-IP entry
// is list-valued"; the log list is the other list-valued entry).
var listValued = map[Key]bool{
	PixelClassificationWorkerIPs: true,
	Log:                          true,
}

// allowedKeys documents every key the registry accepts, mirroring
// original_source's allowedKeys dict (used for the startup banner and
// validation).
var allowedKeys = map[Key]string{
	DataProviderIP:               "The host:port at which the raw data provider is running.",
	ThresholdingIP:               "host:port of the thresholding service",
	GatewayIP:                    "host:port of the pipeline gateway",
	PixelClassificationWorkerIPs: "List of host:port addresses of classifier workers",
	CacheIP:                      "host:port address of the cache service",
	MessageBrokerIP:              "host:port of the message bus broker",
	PCFeatures:                   "Selected pixel classification features as JSON",
	PCRandomForest:               "Binary blob of the classifier model",
	ThresholdValue:               "Thresholding value at which probability a pixel counts as foreground",
	ThresholdChannel:             "Which channel of the probabilities to use for thresholding",
	ThresholdSigmas:              "Underscore-joined x_y_z smoothing sigmas applied before thresholding",
	BlockSize:                    "Underscore-joined x_y_z block size",
	EstimatedComputeTimeMS:       "Estimated milliseconds to compute one block (informational; not read by any service)",
	Log:                          "Append-only service log",
}

// Valid reports whether k is one of the closed set of registry keys.
func (k Key) Valid() bool {
	_, ok := allowedKeys[k]
	return ok
}

// IsList reports whether k is list-valued.
func (k Key) IsList() bool {
	return listValued[k]
}

func validate(k Key) error {
	if !k.Valid() {
		return fmt.Errorf("registry: %q is not a valid registry key", k)
	}
	return nil
}
