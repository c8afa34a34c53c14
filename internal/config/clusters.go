package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ClusterConfig describes one Kubernetes cluster to read project quotas from.
type ClusterConfig struct {
	Name       string `yaml:"name"`
	Kubeconfig string `yaml:"kubeconfig"`
	Context    string `yaml:"context"`
	// ProjectLabel and CloudIDAnnotation override the global settings.
	ProjectLabel      string `yaml:"projectLabel"`
	CloudIDAnnotation string `yaml:"cloudIDAnnotation"`
}

type clustersFile struct {
	Clusters []ClusterConfig `yaml:"clusters"`
}

// Clusters returns the configured clusters with defaults applied.
func (c *Config) Clusters() ([]ClusterConfig, error) {
	if c.ClustersFile == "" {
		return []ClusterConfig{{
			Name:              "default",
			Kubeconfig:        c.Kubeconfig,
			ProjectLabel:      c.ProjectLabel,
			CloudIDAnnotation: c.CloudIDAnnotation,
		}}, nil
	}

	data, err := os.ReadFile(c.ClustersFile)
	if err != nil {
		return nil, fmt.Errorf("read clusters file: %w", err)
	}
	var f clustersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse clusters file %s: %w", c.ClustersFile, err)
	}
	if len(f.Clusters) == 0 {
		return nil, fmt.Errorf("clusters file %s lists no clusters", c.ClustersFile)
	}

	seen := make(map[string]bool, len(f.Clusters))
	for i := range f.Clusters {
		cl := &f.Clusters[i]
		if cl.Name == "" {
			return nil, fmt.Errorf("cluster %d in %s has no name", i, c.ClustersFile)
		}
		if seen[cl.Name] {
			return nil, fmt.Errorf("duplicate cluster %q in %s", cl.Name, c.ClustersFile)
		}
		seen[cl.Name] = true
		if cl.ProjectLabel == "" {
			cl.ProjectLabel = c.ProjectLabel
		}
		if cl.CloudIDAnnotation == "" {
			cl.CloudIDAnnotation = c.CloudIDAnnotation
		}
	}
	return f.Clusters, nil
}
