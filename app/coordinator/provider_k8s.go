package coordinator

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	meta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/blocksurvey/uptime-coordinator/pkg/utils"
)

const namespaceFile = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"

// K8sBackend runs each work unit as a Kubernetes Job. The Job controller owns
// per-unit retries via backoffLimit, so a Failed poll means the retry budget
// is already spent.
type K8sBackend struct {
	Logger *zap.Logger

	client       kubernetes.Interface
	ns           string
	image        string
	tag          string
	backoffLimit int32
	ttlSeconds   int32
	cassandraIP  string
	noChecks     bool
	networkName  string
}

var _ Backend = (*K8sBackend)(nil)

// NewK8sBackend builds a backend from the current Kubernetes context,
// preferring in-cluster credentials and falling back to kubeconfig.
func NewK8sBackend(logger *zap.Logger, cfg Config) (*K8sBackend, error) {
	log := logger.With(zap.String("component", "k8s_backend"))

	var (
		restCfg *rest.Config
		err     error
		src     string
	)
	if restCfg, err = rest.InClusterConfig(); err == nil {
		src = "in_cluster"
	} else {
		kubeconfig := os.Getenv("KUBECONFIG")
		if kubeconfig == "" {
			kubeconfig = clientcmd.RecommendedHomeFile
		}
		restCfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			log.Error("kube config build failed", zap.Error(err))
			return nil, fmt.Errorf("build kube config: %w", err)
		}
		src = "kubeconfig"
	}

	cs, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		log.Error("k8s client init failed", zap.Error(err))
		return nil, fmt.Errorf("k8s client: %w", err)
	}

	ns := utils.Env("K8S_NAMESPACE", "")
	if ns == "" {
		raw, readErr := os.ReadFile(namespaceFile)
		if readErr != nil {
			return nil, fmt.Errorf("determine namespace: %w", readErr)
		}
		ns = strings.TrimSpace(string(raw))
	}

	log.Info("Kubernetes backend ready",
		zap.String("config_source", src),
		zap.String("namespace", ns))

	return &K8sBackend{
		Logger:       log,
		client:       cs,
		ns:           ns,
		image:        cfg.WorkerImage,
		tag:          cfg.WorkerTag,
		backoffLimit: int32(cfg.RetryCount),
		ttlSeconds:   int32FromEnv("WORKER_TTL_SECONDS_AFTER_FINISHED", 300),
		cassandraIP:  resolveHostIP(utils.Env("CASSANDRA_HOST", ""), log),
		noChecks:     cfg.NoChecks,
		networkName:  cfg.NetworkName,
	}, nil
}

// Launch creates one Job for the unit and returns its name.
func (b *K8sBackend) Launch(ctx context.Context, unit Unit) (Handle, error) {
	groupName := fmt.Sprintf("delegation-verify-%s", time.Now().UTC().Format("06-01-02-15-04"))
	jobName := fmt.Sprintf("%s-%d", groupName, unit.Index)

	job := b.jobSpec(jobName, groupName, unit)
	if _, err := b.client.BatchV1().Jobs(b.ns).Create(ctx, job, meta.CreateOptions{}); err != nil {
		return "", fmt.Errorf("create job %s: %w", jobName, err)
	}

	b.Logger.Info("Worker job created",
		zap.String("job", jobName),
		zap.String("namespace", b.ns),
		zap.String("start", workerTimestamp(unit.Start)),
		zap.String("end", workerTimestamp(unit.End)))
	return Handle(jobName), nil
}

// Poll reports the Job's terminal state. Failed means the Job controller has
// burned through backoffLimit.
func (b *K8sBackend) Poll(ctx context.Context, h Handle) (UnitStatus, error) {
	job, err := b.client.BatchV1().Jobs(b.ns).Get(ctx, string(h), meta.GetOptions{})
	if err != nil {
		return UnitRunning, fmt.Errorf("read job %s: %w", h, err)
	}
	if job.Status.Succeeded > 0 {
		return UnitSucceeded, nil
	}
	for _, cond := range job.Status.Conditions {
		if cond.Type == batchv1.JobFailed && cond.Status == corev1.ConditionTrue {
			return UnitFailed, nil
		}
	}
	if job.Status.Failed > 0 {
		b.Logger.Warn("Worker pod failed, Job controller is retrying",
			zap.String("job", string(h)),
			zap.Int32("failures", job.Status.Failed),
			zap.Int32("backoff_limit", b.backoffLimit))
	}
	return UnitRunning, nil
}

func (b *K8sBackend) Close() {}

func (b *K8sBackend) jobSpec(jobName, groupName string, unit Unit) *batchv1.Job {
	authMountPath := utils.Env("AUTH_VOLUME_MOUNT_PATH", "/root/.aws")
	noChecks := ""
	if b.noChecks {
		noChecks = "1"
	}

	env := []corev1.EnvVar{
		{Name: "AWS_ROLE_SESSION_NAME", Value: jobName},
		{Name: "AWS_REGION", Value: os.Getenv("AWS_REGION")},
		{Name: "AWS_DEFAULT_REGION", Value: os.Getenv("AWS_REGION")},
		{Name: "AWS_S3_BUCKET", Value: os.Getenv("AWS_S3_BUCKET")},
		{Name: "AWS_KEYSPACE", Value: os.Getenv("AWS_KEYSPACE")},
		{Name: "AWS_ACCESS_KEY_ID", Value: os.Getenv("AWS_ACCESS_KEY_ID")},
		{Name: "AWS_SECRET_ACCESS_KEY", Value: os.Getenv("AWS_SECRET_ACCESS_KEY")},
		{Name: "CASSANDRA_HOST", Value: b.cassandraIP},
		{Name: "CASSANDRA_PORT", Value: os.Getenv("CASSANDRA_PORT")},
		{Name: "CASSANDRA_USERNAME", Value: os.Getenv("CASSANDRA_USERNAME")},
		{Name: "CASSANDRA_PASSWORD", Value: os.Getenv("CASSANDRA_PASSWORD")},
		{Name: "SSL_CERTFILE", Value: "/root/.cassandra/sf-class2-root.crt"},
		{Name: "AUTH_VOLUME_MOUNT_PATH", Value: authMountPath},
		{Name: "NETWORK_NAME", Value: b.networkName},
		{Name: "NO_CHECKS", Value: noChecks},
		{Name: "START_TIMESTAMP", Value: workerTimestamp(unit.Start)},
		{Name: "END_TIMESTAMP", Value: workerTimestamp(unit.End)},
		{Name: "SUBMISSION_STORAGE", Value: os.Getenv("SUBMISSION_STORAGE")},
		{Name: "POSTGRES_HOST", Value: os.Getenv("POSTGRES_HOST")},
		{Name: "POSTGRES_PORT", Value: os.Getenv("POSTGRES_PORT")},
		{Name: "POSTGRES_DB", Value: os.Getenv("POSTGRES_DB")},
		{Name: "POSTGRES_USER", Value: os.Getenv("POSTGRES_USER")},
		{Name: "POSTGRES_PASSWORD", Value: os.Getenv("POSTGRES_PASSWORD")},
	}

	resReq := corev1.ResourceRequirements{
		Requests: corev1.ResourceList{},
		Limits:   corev1.ResourceList{},
	}
	if v := os.Getenv("WORKER_CPU_REQUEST"); v != "" {
		resReq.Requests[corev1.ResourceCPU] = resource.MustParse(v)
	}
	if v := os.Getenv("WORKER_MEMORY_REQUEST"); v != "" {
		resReq.Requests[corev1.ResourceMemory] = resource.MustParse(v)
	}
	if v := os.Getenv("WORKER_CPU_LIMIT"); v != "" {
		resReq.Limits[corev1.ResourceCPU] = resource.MustParse(v)
	}
	if v := os.Getenv("WORKER_MEMORY_LIMIT"); v != "" {
		resReq.Limits[corev1.ResourceMemory] = resource.MustParse(v)
	}

	image := fmt.Sprintf("%s:%s", b.image, b.tag)
	pullPolicy := corev1.PullPolicy(utils.Env("IMAGE_PULL_POLICY", "IfNotPresent"))

	authMount := corev1.VolumeMount{Name: "auth-volume", MountPath: authMountPath}
	entrypointMount := corev1.VolumeMount{Name: "entrypoint-volume", MountPath: "/bin/entrypoint"}

	podLabels := map[string]string{"job-group-name": groupName}

	var nodeSelector map[string]string
	var tolerations []corev1.Toleration
	if nodepool := os.Getenv("K8S_NODE_POOL"); nodepool != "" {
		nodeSelector = map[string]string{"karpenter.sh/nodepool": nodepool}
		tolerations = []corev1.Toleration{{Key: "karpenter.sh/nodepool", Operator: corev1.TolerationOpExists}}
	}

	return &batchv1.Job{
		ObjectMeta: meta.ObjectMeta{Name: jobName},
		Spec: batchv1.JobSpec{
			BackoffLimit:            int32Ptr(b.backoffLimit),
			TTLSecondsAfterFinished: int32Ptr(b.ttlSeconds),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: meta.ObjectMeta{
					Annotations: map[string]string{"karpenter.sh/do-not-disrupt": "true"},
					Labels:      podLabels,
				},
				Spec: corev1.PodSpec{
					NodeSelector: nodeSelector,
					Tolerations:  tolerations,
					TopologySpreadConstraints: []corev1.TopologySpreadConstraint{{
						MaxSkew:           int32FromEnv("SPREAD_MAX_SKEW", 1),
						TopologyKey:       "kubernetes.io/hostname",
						WhenUnsatisfiable: corev1.DoNotSchedule,
						LabelSelector:     &meta.LabelSelector{MatchLabels: podLabels},
					}},
					InitContainers: []corev1.Container{{
						Name:            "delegation-verify-init",
						Image:           image,
						Command:         []string{"/bin/authenticate.sh"},
						Env:             env,
						ImagePullPolicy: pullPolicy,
						VolumeMounts:    []corev1.VolumeMount{authMount},
					}},
					Containers: []corev1.Container{{
						Name: "delegation-verify",
						// The entrypoint script lives in the cluster as a
						// configmap shipped with the coordinator chart.
						Command:         []string{"/bin/entrypoint/entrypoint-worker.sh"},
						Image:           image,
						Resources:       resReq,
						Env:             env,
						ImagePullPolicy: pullPolicy,
						VolumeMounts:    []corev1.VolumeMount{authMount, entrypointMount},
					}},
					RestartPolicy:      corev1.RestartPolicyNever,
					ServiceAccountName: utils.Env("WORKER_SERVICE_ACCOUNT_NAME", "delegation-verify"),
					Volumes: []corev1.Volume{
						{
							Name:         "auth-volume",
							VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}},
						},
						{
							Name: "entrypoint-volume",
							VolumeSource: corev1.VolumeSource{
								ConfigMap: &corev1.ConfigMapVolumeSource{
									LocalObjectReference: corev1.LocalObjectReference{
										Name: "delegation-verify-coordinator-worker",
									},
									DefaultMode: int32Ptr(0o777),
								},
							},
						},
					},
				},
			},
		},
	}
}

func int32Ptr(i int32) *int32 { return &i }

// int32FromEnv returns the given env var as an int32, or the default if not
// set or unparsable.
func int32FromEnv(key string, def int32) int32 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return int32(n)
		}
	}
	return def
}
