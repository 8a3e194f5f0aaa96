package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrParseSeed is returned when the super-admin seed file cannot be read
// or decoded.
var ErrParseSeed = errors.New("config: failed to parse super-admin seed")

// SuperAdmin is one seeded super-admin credential. Super admins never go
// through the provider flow; they sign in with these credentials directly.
type SuperAdmin struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

type seedFile struct {
	SuperAdmins []SuperAdmin `yaml:"super_admins"`
}

// LoadSuperAdmins reads the seed file at path. Entries missing an email or
// password are rejected rather than silently skipped, a half-typed seed
// file should fail the boot loudly.
func LoadSuperAdmins(path string) ([]SuperAdmin, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Join(ErrParseSeed, fmt.Errorf("read %s: %w", path, err))
	}

	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, errors.Join(ErrParseSeed, fmt.Errorf("decode %s: %w", path, err))
	}

	for i, admin := range f.SuperAdmins {
		if admin.Email == "" || admin.Password == "" {
			return nil, errors.Join(ErrParseSeed, fmt.Errorf("entry %d is missing email or password", i))
		}
	}
	return f.SuperAdmins, nil
}
