// Defines shared resource quotas applied at server and per-user levels.

package storage

import "errors"

// ResourceQuotas defines content limits shared by the server and user layers.
// A zero value means "no limit at this layer" (inherit from other layers).
type ResourceQuotas struct {
	// MaxFragments limits the number of knowledge fragments per user.
	MaxFragments int `json:"max_fragments" jsonschema:"description=Maximum fragments per user (0=no limit at this layer)"`

	// MaxFiles limits the number of uploaded files per user.
	MaxFiles int `json:"max_files" jsonschema:"description=Maximum uploaded files per user (0=no limit at this layer)"`

	// MaxStorageBytes limits file storage per user.
	MaxStorageBytes int64 `json:"max_storage_bytes" jsonschema:"description=Maximum storage per user in bytes (0=no limit at this layer)"`

	// MaxFileSizeBytes limits the size of a single uploaded file.
	MaxFileSizeBytes int64 `json:"max_file_size_bytes" jsonschema:"description=Maximum single file size in bytes (0=no limit at this layer)"`
}

// Validate checks that all quota values are non-negative.
func (q *ResourceQuotas) Validate() error {
	if q.MaxFragments < 0 {
		return errors.New("max_fragments must be non-negative")
	}
	if q.MaxFiles < 0 {
		return errors.New("max_files must be non-negative")
	}
	if q.MaxStorageBytes < 0 {
		return errors.New("max_storage_bytes must be non-negative")
	}
	if q.MaxFileSizeBytes < 0 {
		return errors.New("max_file_size_bytes must be non-negative")
	}
	return nil
}

// DefaultResourceQuotas returns the default server-level resource quotas.
func DefaultResourceQuotas() ResourceQuotas {
	return ResourceQuotas{
		MaxFragments:     10000,
		MaxFiles:         10000,
		MaxStorageBytes:  10 * 1024 * 1024 * 1024, // 10 GiB
		MaxFileSizeBytes: 50 * 1024 * 1024,        // 50 MiB
	}
}

// EffectiveQuotas computes the effective quotas by taking the minimum positive
// value across the server and user layers for each field.
// A zero value at any layer means "no limit at this layer" and is ignored.
// If all layers are zero, the result is zero (unlimited).
func EffectiveQuotas(server, user ResourceQuotas) ResourceQuotas {
	return ResourceQuotas{
		MaxFragments:     minPositive(server.MaxFragments, user.MaxFragments),
		MaxFiles:         minPositive(server.MaxFiles, user.MaxFiles),
		MaxStorageBytes:  minPositiveInt64(server.MaxStorageBytes, user.MaxStorageBytes),
		MaxFileSizeBytes: minPositiveInt64(server.MaxFileSizeBytes, user.MaxFileSizeBytes),
	}
}

// minPositive returns the minimum positive value among the arguments.
// Zero values are ignored. If all are zero, returns 0.
func minPositive(vals ...int) int {
	result := 0
	for _, v := range vals {
		if v > 0 && (result == 0 || v < result) {
			result = v
		}
	}
	return result
}

// minPositiveInt64 returns the minimum positive value among the arguments.
// Zero values are ignored. If all are zero, returns 0.
func minPositiveInt64(vals ...int64) int64 {
	var result int64
	for _, v := range vals {
		if v > 0 && (result == 0 || v < result) {
			result = v
		}
	}
	return result
}
