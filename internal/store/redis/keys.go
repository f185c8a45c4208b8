package redis

const (
	// KeyPrefixService is the prefix for service keys
	KeyPrefixService = "slugproxy:service:"
	// KeyPrefixSlug is the prefix for slug claim keys
	KeyPrefixSlug = "slugproxy:slug:"
	// KeyAllServices is the key for the set of all service IDs
	KeyAllServices = "slugproxy:services:all"
)

// ServiceKey returns the Redis key for a service by ID
func ServiceKey(id string) string {
	return KeyPrefixService + id
}

// SlugKey returns the Redis key holding the service ID that owns slug
func SlugKey(slug string) string {
	return KeyPrefixSlug + slug
}

// AllServicesKey returns the key for the set of all service IDs
func AllServicesKey() string {
	return KeyAllServices
}
