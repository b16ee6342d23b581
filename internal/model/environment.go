package model

import "fmt"

// Environment selects the SIFEN deployment a document is addressed to.
type Environment string

const (
	EnvTest Environment = "test"
	EnvProd Environment = "prod"
)

// ParseEnvironment validates an environment name
func ParseEnvironment(s string) (Environment, error) {
	switch Environment(s) {
	case EnvTest, EnvProd:
		return Environment(s), nil
	default:
		return "", fmt.Errorf("unknown environment %q (want test or prod)", s)
	}
}

func (e Environment) String() string {
	return string(e)
}
