package s3

import "time"

// Config holds S3 backend construction parameters, extracted from
// helper.Params by the factory rather than read directly from the
// environment so the same backend type can serve multiple mounts with
// different buckets/regions in one process.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ForcePathStyle  bool
	UseAccelerate   bool
	UseDualStack    bool

	MaxRetries int
	PoolSize   int

	// EnableCargoShipOptimization routes large PutObject calls through
	// cargoship's BBR/CUBIC-tuned transporter instead of a bare SDK call.
	EnableCargoShipOptimization bool
	TargetThroughput            string

	RequestTimeout time.Duration
}

// NewDefaultConfig returns conservative defaults matching what a bare
// aws-sdk-go-v2 client would pick, plus CargoShip optimization enabled.
func NewDefaultConfig() *Config {
	return &Config{
		Region:                      "us-east-1",
		MaxRetries:                  3,
		PoolSize:                    8,
		EnableCargoShipOptimization: true,
		TargetThroughput:            "500MB/s",
		RequestTimeout:              30 * time.Second,
	}
}
