// Package leader runs a function only while this replica holds a Kubernetes
// Lease.
package leader

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"
	"k8s.io/client-go/util/homedir"

	"github.com/xpadev-net/clipwatch/internal/log"
)

// Config holds the Lease coordinates and the cluster connection settings.
type Config struct {
	InCluster      bool
	KubeConfigPath string
	Namespace      string
	LeaseName      string
	Identity       string

	LeaseDuration time.Duration
	RenewDeadline time.Duration
	RetryPeriod   time.Duration
}

func (c *Config) applyDefaults() {
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = 15 * time.Second
	}
	if c.RenewDeadline <= 0 {
		c.RenewDeadline = 10 * time.Second
	}
	if c.RetryPeriod <= 0 {
		c.RetryPeriod = 2 * time.Second
	}
}

func (c *Config) validate() error {
	if c.Namespace == "" || c.LeaseName == "" || c.Identity == "" {
		return fmt.Errorf("leader election needs namespace, lease name and identity")
	}
	if c.RenewDeadline >= c.LeaseDuration {
		return fmt.Errorf("renew deadline %s must be shorter than lease duration %s", c.RenewDeadline, c.LeaseDuration)
	}
	return nil
}

// restConfig builds the cluster connection, falling back to ~/.kube/config
// outside the cluster.
func restConfig(cfg Config) (*rest.Config, error) {
	if cfg.InCluster {
		config, err := rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("create in-cluster config: %w", err)
		}
		return config, nil
	}
	kubeconfig := cfg.KubeConfigPath
	if kubeconfig == "" {
		if home := homedir.HomeDir(); home != "" {
			kubeconfig = filepath.Join(home, ".kube", "config")
		}
	}
	config, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("create out-of-cluster config: %w", err)
	}
	return config, nil
}

// Run blocks until ctx is canceled. run is called with a context that is
// canceled when leadership is lost; Run returns after run returns.
func Run(ctx context.Context, cfg Config, run func(ctx context.Context)) error {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return err
	}
	config, err := restConfig(cfg)
	if err != nil {
		return err
	}
	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return fmt.Errorf("create clientset: %w", err)
	}

	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      cfg.LeaseName,
			Namespace: cfg.Namespace,
		},
		Client:     clientset.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{Identity: cfg.Identity},
	}
	return runWithLock(ctx, cfg, lock, run)
}

func runWithLock(ctx context.Context, cfg Config, lock resourcelock.Interface, run func(ctx context.Context)) error {
	logger := log.With(zap.String("lease", cfg.LeaseName), zap.String("identity", cfg.Identity))

	// the elector calls OnStartedLeading on its own goroutine
	var running sync.WaitGroup

	elector, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
		Lock:            lock,
		LeaseDuration:   cfg.LeaseDuration,
		RenewDeadline:   cfg.RenewDeadline,
		RetryPeriod:     cfg.RetryPeriod,
		ReleaseOnCancel: true,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: func(leadCtx context.Context) {
				running.Add(1)
				defer running.Done()
				logger.Info("acquired leadership")
				run(leadCtx)
			},
			OnStoppedLeading: func() {
				logger.Info("leadership released")
			},
			OnNewLeader: func(identity string) {
				if identity != cfg.Identity {
					logger.Info("following leader", zap.String("leader", identity))
				}
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create leader elector: %w", err)
	}

	// Run returns when leadership is lost; try again until shutdown.
	for ctx.Err() == nil {
		elector.Run(ctx)
	}
	running.Wait()
	return nil
}
