// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	// to ensure that the binary can authenticate against any cluster it runs
	// against.
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"github.com/cloudnative-labs/pvc-autoscaler/internal/cluster"
	"github.com/cloudnative-labs/pvc-autoscaler/internal/common"
	"github.com/cloudnative-labs/pvc-autoscaler/internal/config"
	"github.com/cloudnative-labs/pvc-autoscaler/internal/httpserver"
	"github.com/cloudnative-labs/pvc-autoscaler/internal/metrics"
	"github.com/cloudnative-labs/pvc-autoscaler/internal/metrics/source/prometheus"
	"github.com/cloudnative-labs/pvc-autoscaler/internal/notifier"
	"github.com/cloudnative-labs/pvc-autoscaler/internal/reconciler"

	corev1 "k8s.io/api/core/v1"
	storagev1 "k8s.io/api/storage/v1"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/client-go/kubernetes"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// version and commit are overridden at build time via -ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(storagev1.AddToScheme(scheme))
}

func main() {
	var kubeconfig string
	var verbose bool
	flag.StringVar(&kubeconfig, "kubeconfig", "", "Path to a kubeconfig. Only required if out-of-cluster.")
	flag.BoolVar(&verbose, "verbose", false, "Enable debug-level logging.")
	flag.Parse()

	if err := run(kubeconfig, verbose); err != nil {
		setupLog.Error(err, "controller exited with an error")
		os.Exit(1)
	}
}

func run(kubeconfig string, verboseFlag bool) error {
	cfg, err := config.FromEnviron()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if verboseFlag {
		cfg.Verbose = true
	}

	zapOpts := zap.Options{Development: cfg.Verbose}
	logger := zap.New(zap.UseFlagOptions(&zapOpts))
	ctrl.SetLogger(logger)
	ctx := log.IntoContext(signalContext(), logger)

	restConfig, err := clientConfig(kubeconfig, cfg.HTTPTimeout)
	if err != nil {
		return fmt.Errorf("building Kubernetes client config: %w", err)
	}

	k8sClient, err := client.New(restConfig, client.Options{Scheme: scheme})
	if err != nil {
		return fmt.Errorf("creating Kubernetes client: %w", err)
	}

	eventRecorder, stopBroadcaster, err := newEventRecorder(restConfig)
	if err != nil {
		return fmt.Errorf("creating event recorder: %w", err)
	}
	defer stopBroadcaster()

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	metricsSource, err := prometheus.New(
		prometheus.WithAddress(cfg.PrometheusAddress),
		prometheus.WithLabelMatch(cfg.LabelMatch),
		prometheus.WithHTTPClient(httpClient),
	)
	if err != nil {
		return fmt.Errorf("creating metrics source: %w", err)
	}

	clusterAdapter, err := cluster.New(
		cluster.WithClient(k8sClient),
		cluster.WithEventRecorder(eventRecorder),
		cluster.WithDryRun(cfg.DryRun),
	)
	if err != nil {
		return fmt.Errorf("creating cluster adapter: %w", err)
	}

	notify := notifier.New(
		notifier.WithWebhookURL(cfg.SlackWebhookURL),
		notifier.WithChannel(cfg.SlackChannel),
		notifier.WithMessagePrefix(cfg.SlackMessagePrefix),
		notifier.WithMessageSuffix(cfg.SlackMessageSuffix),
		notifier.WithHTTPClient(httpClient),
		notifier.WithDisabled(cfg.DryRun),
	)

	r, err := reconciler.New(
		reconciler.WithMetricsSource(metricsSource),
		reconciler.WithCluster(clusterAdapter),
		reconciler.WithNotifier(notify),
		reconciler.WithConfig(cfg),
	)
	if err != nil {
		return fmt.Errorf("creating reconciler: %w", err)
	}

	metrics.ReleaseInfo.WithLabelValues(version, commit).Set(1)
	metrics.SettingsInfo.WithLabelValues(
		fmt.Sprintf("%d", cfg.ScaleAbovePercent),
		fmt.Sprintf("%d", cfg.ScaleAfterIntervals),
		fmt.Sprintf("%t", cfg.DryRun),
	).Set(1)

	srv := httpserver.New(cfg.HTTPAddr)
	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Start(ctx)
	}()

	setupLog.Info("starting controller",
		"version", version, "commit", commit, "interval", cfg.IntervalTime, "dryRun", cfg.DryRun)

	ticker := time.NewTicker(cfg.IntervalTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			setupLog.Info("shutting down")
			return <-srvErrCh
		case err := <-srvErrCh:
			return fmt.Errorf("http server: %w", err)
		case <-ticker.C:
			iterCtx, cancel := context.WithTimeout(ctx, cfg.IntervalTime)
			if err := r.RunIteration(iterCtx); err != nil {
				setupLog.Error(err, "iteration failed", "controller", common.ControllerName)
			} else {
				srv.SetReady(true)
			}
			cancel()
		}
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx
}

// clientConfig builds the Kubernetes client configuration and bounds every
// call made with it to timeout, matching the documented HTTP_TIMEOUT
// contract that otherwise only covers the metrics backend and notifier.
func clientConfig(kubeconfig string, timeout time.Duration) (*rest.Config, error) {
	restConfig, err := loadClientConfig(kubeconfig)
	if err != nil {
		return nil, err
	}
	restConfig.Timeout = timeout
	return restConfig, nil
}

func loadClientConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if restConfig, err := rest.InClusterConfig(); err == nil {
		return restConfig, nil
	}
	return clientcmd.BuildConfigFromFlags("", clientcmd.RecommendedHomeFile)
}

// newEventRecorder wires a standalone client-go event broadcaster, since the
// controller runs against a direct client instead of a controller-runtime
// manager and so has no manager-provided recorder to reuse.
func newEventRecorder(restConfig *rest.Config) (record.EventRecorder, func(), error) {
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, nil, err
	}

	broadcaster := record.NewBroadcaster()
	broadcaster.StartStructuredLogging(0)
	sinkWatcher := broadcaster.StartRecordingToSink(&corev1.EventSinkImpl{
		Interface: clientset.CoreV1().Events(""),
	})

	recorder := broadcaster.NewRecorder(scheme, corev1.EventSource{Component: common.ControllerName})
	return recorder, sinkWatcher.Stop, nil
}
