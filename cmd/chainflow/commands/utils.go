package commands

import (
	"fmt"
	"os"
	"strings"

	"chainflow/pkg/client"

	"github.com/spf13/viper"
)

func newClient() *client.Client {
	return client.NewClient(viper.GetString("server"))
}

func exitErr(err error) {
	fmt.Printf("Error: %v\n", err)
	os.Exit(1)
}

// parseKeyValues turns repeated key=value flags into a map. Values stay
// strings; plugins coerce their own inputs.
func parseKeyValues(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	values := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid key=value pair: %q", pair)
		}
		values[key] = value
	}
	return values, nil
}

func joinTags(tags []string) string {
	if len(tags) == 0 {
		return "-"
	}
	return strings.Join(tags, ",")
}
