package seed

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MrSnakeDoc/slugproxy/internal/domain"
)

// DefaultOwner owns entries that do not name one.
const DefaultOwner = domain.DefaultOwner

// Declaration is a validated seed entry, ready to be registered.
type Declaration struct {
	Owner     string
	Name      string
	Algorithm string
	RateLimit *domain.RateLimit
	Instances []domain.InstanceSpec
}

// Mapper validates seed entries
type Mapper struct{}

// NewMapper creates a new mapper instance
func NewMapper() *Mapper {
	return &Mapper{}
}

// MapServices validates every entry of file. Invalid entries are skipped and
// reported in the returned error; the error is fatal only when nothing is left.
func (m *Mapper) MapServices(file File) ([]Declaration, error) {
	var (
		out     []Declaration
		skipped []error
		seen    = make(map[string]bool)
	)

	for i, entry := range file.Services {
		decl, err := m.mapEntry(entry)
		if err != nil {
			skipped = append(skipped, fmt.Errorf("services[%d]: %w", i, err))
			continue
		}

		key := decl.Owner + "\x00" + decl.Name
		if seen[key] {
			skipped = append(skipped, fmt.Errorf("services[%d]: %q declared twice for owner %q: %w",
				i, decl.Name, decl.Owner, domain.ErrDuplicateName))
			continue
		}
		seen[key] = true
		out = append(out, decl)
	}

	if len(out) == 0 {
		return nil, errors.Join(append([]error{errors.New("no valid services found in seed file")}, skipped...)...)
	}

	return out, errors.Join(skipped...)
}

func (m *Mapper) mapEntry(entry ServiceEntry) (Declaration, error) {
	decl := Declaration{
		Owner:     strings.TrimSpace(entry.Owner),
		Name:      strings.TrimSpace(entry.Name),
		Algorithm: strings.TrimSpace(entry.Algorithm),
	}
	if decl.Owner == "" {
		decl.Owner = DefaultOwner
	}
	if decl.Name == "" {
		return decl, fmt.Errorf("%w: name is required", domain.ErrInvalidValue)
	}
	if _, err := domain.ParseAlgorithm(decl.Algorithm); err != nil {
		return decl, err
	}

	if entry.RateLimit != nil {
		if err := entry.RateLimit.Validate(); err != nil {
			return decl, err
		}
		rl := *entry.RateLimit
		decl.RateLimit = &rl
	}

	names := make(map[string]bool, len(entry.Instances))
	for _, spec := range entry.Instances {
		spec, err := spec.Normalize()
		if err != nil {
			return decl, err
		}
		if names[spec.DisplayName] {
			return decl, fmt.Errorf("instance %q: %w", spec.DisplayName, domain.ErrDuplicateInstanceName)
		}
		names[spec.DisplayName] = true
		decl.Instances = append(decl.Instances, spec)
	}

	return decl, nil
}
