package serverconfig

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/artpar/apppublish/internal/core/domain"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// File Provider
// =============================================================================

// instanceFile is the YAML layout of a server instance descriptor file:
//
//	instances:
//	  bcserver:
//	    service_name: BC
//	    host: bcserver
//	    running: true
//	    auth_mode: NavUserPassword
//	    dev_services_port: 7049
//	    dev_endpoint_tls: false
//	    major_version: 24
type instanceFile struct {
	Instances map[string]instanceEntry `yaml:"instances"`
}

type instanceEntry struct {
	ServiceName     string `yaml:"service_name"`
	Host            string `yaml:"host"`
	Running         *bool  `yaml:"running"`
	AuthMode        string `yaml:"auth_mode"`
	DevServicesPort int    `yaml:"dev_services_port"`
	DevEndpointTLS  bool   `yaml:"dev_endpoint_tls"`
	MajorVersion    int    `yaml:"major_version"`
}

// FileProvider serves server instance descriptors from a YAML file.
// Used for hosts that are not managed through Docker.
type FileProvider struct {
	instances map[string]domain.ServerInstance
}

// LoadFile reads a descriptor file.
func LoadFile(path string) (*FileProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read server config: %w", err)
	}
	return ParseFile(data)
}

// ParseFile parses descriptor file content.
func ParseFile(data []byte) (*FileProvider, error) {
	var f instanceFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse server config: %w", err)
	}

	p := &FileProvider{instances: make(map[string]domain.ServerInstance, len(f.Instances))}
	for name, e := range f.Instances {
		server := domain.ServerInstance{
			Name:            name,
			ServiceName:     e.ServiceName,
			Host:            e.Host,
			Running:         true,
			AuthMode:        domain.AuthModeWindows,
			DevServicesPort: e.DevServicesPort,
			DevEndpointTLS:  e.DevEndpointTLS,
			MajorVersion:    e.MajorVersion,
		}
		if e.Running != nil {
			server.Running = *e.Running
		}
		if server.ServiceName == "" {
			server.ServiceName = DefaultServiceName
		}
		if server.Host == "" {
			server.Host = name
		}
		if server.DevServicesPort == 0 {
			server.DevServicesPort = DevServicesPort
		}
		if e.AuthMode != "" {
			server.AuthMode = authMode(e.AuthMode)
		}
		p.instances[strings.ToLower(name)] = server
	}
	return p, nil
}

// ServerConfig returns the descriptor of instance.
func (p *FileProvider) ServerConfig(_ context.Context, instance string) (*domain.ServerInstance, error) {
	server, ok := p.instances[strings.ToLower(instance)]
	if !ok {
		return nil, fmt.Errorf("%w: server instance %s is not configured", domain.ErrUnsupportedTarget, instance)
	}
	return &server, nil
}
