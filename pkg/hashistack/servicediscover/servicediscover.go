package servicediscover

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"

	"trackpoints/internal/endpoint"
	"trackpoints/pkg/config"

	"github.com/hashicorp/consul/api"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module registers the HTTP service with consul for the lifetime of the process.
var Module = fx.Module("servicediscover", fx.Invoke(registerConsul))

type ServiceRegistry interface {
	Register(ctx context.Context) error
	Deregister(ctx context.Context) error
}

type ConsulRegistry struct {
	client    *api.Client
	serviceID string
	service   *api.AgentServiceRegistration
}

func NewConsulRegistry(address, serviceName, serviceID, host string, port int) (*ConsulRegistry, error) {
	cfg := api.DefaultConfig()
	cfg.Address = address

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	return &ConsulRegistry{
		client:    client,
		serviceID: serviceID,
		service:   Registration(serviceName, serviceID, host, port),
	}, nil
}

// Registration describes the service and its readiness check.
func Registration(serviceName, serviceID, host string, port int) *api.AgentServiceRegistration {
	return &api.AgentServiceRegistration{
		ID:      serviceID,
		Name:    serviceName,
		Address: host,
		Port:    port,
		Check: &api.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s/readyz", net.JoinHostPort(host, strconv.Itoa(port))),
			Interval:                       "10s",
			Timeout:                        "5s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}
}

func (r *ConsulRegistry) Register(ctx context.Context) error {
	return r.client.Agent().ServiceRegisterOpts(r.service, api.ServiceRegisterOpts{}.WithContext(ctx))
}

func (r *ConsulRegistry) Deregister(ctx context.Context) error {
	return r.client.Agent().ServiceDeregisterOpts(r.serviceID, (&api.QueryOptions{}).WithContext(ctx))
}

// ListenPort extracts the port of a server address that may be a bare port.
func ListenPort(addr string) (int, error) {
	_, port, err := net.SplitHostPort(endpoint.Normalize(addr))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(port)
}

func registerConsul(lc fx.Lifecycle, cfg *config.Config) error {
	if !cfg.Consul.Enable {
		return nil
	}

	port, err := ListenPort(cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("invalid server address %q: %w", cfg.Server.Addr, err)
	}

	host := cfg.Consul.Host
	if host == "" {
		host, _ = os.Hostname()
	}
	serviceID := fmt.Sprintf("%s-%s-%d", cfg.AppName, host, port)

	registry, err := NewConsulRegistry(cfg.Consul.Addr, cfg.AppName, serviceID, host, port)
	if err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := registry.Register(ctx); err != nil {
				zap.L().Error("[Consul] failed to register service", zap.Error(err))
				return err
			}
			zap.L().Info("[Consul] service registered", zap.String("service_id", serviceID))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return registry.Deregister(ctx)
		},
	})
	return nil
}
