package config

import "testing"

func TestPortConstantsAreDistinct(t *testing.T) {
	ports := map[string]int{
		"APIServerPort":  APIServerPort,
		"VaultPort":      VaultPort,
		"PostgresPort":   PostgresPort,
		"RedisPort":      RedisPort,
		"PrometheusPort": PrometheusPort,
		"GrafanaPort":    GrafanaPort,
	}

	seen := make(map[int]string)
	for name, port := range ports {
		if port <= 0 {
			t.Errorf("%s = %d, want a positive port number", name, port)
		}
		if existing, ok := seen[port]; ok {
			t.Errorf("port %d used by both %q and %q", port, existing, name)
		}
		seen[port] = name
	}
}
