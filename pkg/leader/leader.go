// Package leader runs singleton loops, such as the janitor, on exactly one
// replica using a Kubernetes Lease.
package leader

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/servicehub/orchestrator/pkg/config"
)

func NewKubernetesClient(cfg config.KubernetesConfig) (kubernetes.Interface, error) {
	var restConfig *rest.Config
	var err error

	if cfg.InCluster {
		restConfig, err = rest.InClusterConfig()
	} else {
		restConfig, err = clientcmd.BuildConfigFromFlags("", cfg.KubeConfig)
	}
	if err != nil {
		return nil, err
	}

	return kubernetes.NewForConfig(restConfig)
}

type Elector struct {
	client   kubernetes.Interface
	cfg      config.KubernetesConfig
	identity string
	logger   *zap.Logger
}

func NewElector(client kubernetes.Interface, cfg config.KubernetesConfig, logger *zap.Logger) *Elector {
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if cfg.LeaseName == "" {
		cfg.LeaseName = "orchestrator-janitor"
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 15 * time.Second
	}
	if cfg.RenewDeadline <= 0 {
		cfg.RenewDeadline = 10 * time.Second
	}
	if cfg.RetryPeriod <= 0 {
		cfg.RetryPeriod = 2 * time.Second
	}
	return &Elector{
		client:   client,
		cfg:      cfg,
		identity: identity(),
		logger:   logger,
	}
}

func identity() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "orchestrator"
	}
	return fmt.Sprintf("%s_%s", host, uuid.NewString())
}

func (e *Elector) Identity() string {
	return e.identity
}

// Run campaigns for the lease until ctx is cancelled. fn runs while this
// replica leads and its context is cancelled when leadership is lost; the
// replica then campaigns again.
func (e *Elector) Run(ctx context.Context, fn func(ctx context.Context)) error {
	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      e.cfg.LeaseName,
			Namespace: e.cfg.Namespace,
		},
		Client: e.client.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: e.identity,
		},
	}

	electionConfig := leaderelection.LeaderElectionConfig{
		Lock:            lock,
		LeaseDuration:   e.cfg.LeaseDuration,
		RenewDeadline:   e.cfg.RenewDeadline,
		RetryPeriod:     e.cfg.RetryPeriod,
		ReleaseOnCancel: true,
		Name:            e.cfg.LeaseName,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: func(ctx context.Context) {
				e.logger.Info("acquired leadership", zap.String("lease", e.cfg.LeaseName), zap.String("identity", e.identity))
				fn(ctx)
			},
			OnStoppedLeading: func() {
				e.logger.Info("lost leadership", zap.String("lease", e.cfg.LeaseName), zap.String("identity", e.identity))
			},
			OnNewLeader: func(current string) {
				if current != e.identity {
					e.logger.Debug("observed leader", zap.String("lease", e.cfg.LeaseName), zap.String("leader", current))
				}
			},
		},
	}

	for {
		elector, err := leaderelection.NewLeaderElector(electionConfig)
		if err != nil {
			return fmt.Errorf("configure leader election: %w", err)
		}
		elector.Run(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
