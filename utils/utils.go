package utils

import (
	"fmt"
	"os"
	"strconv"

	"github.com/segmentio/ksuid"
)

func EnvOrDefault(env, defaultVal string) string {
	e := os.Getenv(env)
	if e == "" {
		return defaultVal
	}
	return e
}

// MustEnvOrDefaultInt64 panics if the env var is set but is not an int
func MustEnvOrDefaultInt64(env string, defaultVal int64) int64 {
	e := os.Getenv(env)
	if e == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(e, 10, 64)
	if err != nil {
		panic(fmt.Sprintf("env var %s is not an int: %s", env, err))
	}
	return i
}

// GenKSortedID generates a k-sortable ID with the given prefix
func GenKSortedID(prefix string) string {
	return prefix + ksuid.New().String()
}
