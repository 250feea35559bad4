package kafka

import (
	"testing"

	"github.com/IBM/sarama"

	"github.com/jittakal/loglake/pkg/record"
)

func TestPayloadCodec(t *testing.T) {
	gzipBody := []byte{0x1f, 0x8b, 0x08, 0x00, 0x00}
	plainBody := []byte(`{"messageType":"DATA_MESSAGE"}`)

	tests := []struct {
		name    string
		headers []*sarama.RecordHeader
		value   []byte
		want    record.Codec
	}{
		{
			name:  "no header, plain payload",
			value: plainBody,
			want:  record.CodecNone,
		},
		{
			name:  "no header, gzip magic sniffed",
			value: gzipBody,
			want:  record.CodecGzip,
		},
		{
			name: "gzip header",
			headers: []*sarama.RecordHeader{
				{Key: []byte("content-encoding"), Value: []byte("gzip")},
			},
			value: gzipBody,
			want:  record.CodecGzip,
		},
		{
			name: "explicit none header wins over magic bytes",
			headers: []*sarama.RecordHeader{
				{Key: []byte("content-encoding"), Value: []byte("none")},
			},
			value: gzipBody,
			want:  record.CodecNone,
		},
		{
			name: "unknown encoding falls back to none",
			headers: []*sarama.RecordHeader{
				{Key: []byte("content-encoding"), Value: []byte("zstd")},
			},
			value: plainBody,
			want:  record.CodecNone,
		},
		{
			name: "unrelated headers are ignored",
			headers: []*sarama.RecordHeader{
				{Key: []byte("trace-id"), Value: []byte("abc")},
			},
			value: gzipBody,
			want:  record.CodecGzip,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &sarama.ConsumerMessage{Headers: tt.headers, Value: tt.value}
			if got := payloadCodec(msg); got != tt.want {
				t.Errorf("payloadCodec() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOffsetInitial(t *testing.T) {
	tests := []struct {
		name   string
		offset string
		want   int64
	}{
		{"earliest", "earliest", sarama.OffsetOldest},
		{"latest", "latest", sarama.OffsetNewest},
		{"empty defaults to latest", "", sarama.OffsetNewest},
		{"unknown defaults to latest", "bogus", sarama.OffsetNewest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := offsetInitial(tt.offset); got != tt.want {
				t.Errorf("offsetInitial(%q) = %v, want %v", tt.offset, got, tt.want)
			}
		})
	}
}

func TestConfigureSecurity(t *testing.T) {
	tests := []struct {
		name    string
		config  ConsumerConfig
		wantErr bool
		check   func(t *testing.T, c *sarama.Config)
	}{
		{
			name:   "empty protocol is plaintext",
			config: ConsumerConfig{},
			check: func(t *testing.T, c *sarama.Config) {
				if c.Net.SASL.Enable || c.Net.TLS.Enable {
					t.Error("plaintext must not enable SASL or TLS")
				}
			},
		},
		{
			name:   "plaintext",
			config: ConsumerConfig{SecurityProtocol: "PLAINTEXT"},
		},
		{
			name:   "ssl enables tls",
			config: ConsumerConfig{SecurityProtocol: "SSL"},
			check: func(t *testing.T, c *sarama.Config) {
				if !c.Net.TLS.Enable {
					t.Error("SSL must enable TLS")
				}
			},
		},
		{
			name: "sasl plain",
			config: ConsumerConfig{
				SecurityProtocol: "SASL_PLAINTEXT",
				SASLMechanism:    "PLAIN",
				SASLUsername:     "user",
				SASLPassword:     "pass",
			},
			check: func(t *testing.T, c *sarama.Config) {
				if !c.Net.SASL.Enable {
					t.Error("SASL must be enabled")
				}
				if c.Net.SASL.Mechanism != sarama.SASLTypePlaintext {
					t.Errorf("mechanism = %v", c.Net.SASL.Mechanism)
				}
				if c.Net.TLS.Enable {
					t.Error("SASL_PLAINTEXT must not enable TLS")
				}
			},
		},
		{
			name: "sasl ssl scram-512",
			config: ConsumerConfig{
				SecurityProtocol: "SASL_SSL",
				SASLMechanism:    "SCRAM-SHA-512",
				SASLUsername:     "user",
				SASLPassword:     "pass",
			},
			check: func(t *testing.T, c *sarama.Config) {
				if c.Net.SASL.Mechanism != sarama.SASLTypeSCRAMSHA512 {
					t.Errorf("mechanism = %v", c.Net.SASL.Mechanism)
				}
				if c.Net.SASL.SCRAMClientGeneratorFunc == nil {
					t.Error("SCRAM client generator not set")
				}
				if !c.Net.TLS.Enable {
					t.Error("SASL_SSL must enable TLS")
				}
			},
		},
		{
			name: "aws msk iam uses oauth token provider",
			config: ConsumerConfig{
				SecurityProtocol: "SASL_SSL",
				SASLMechanism:    "AWS_MSK_IAM",
				AWSRegion:        "eu-west-1",
			},
			check: func(t *testing.T, c *sarama.Config) {
				if c.Net.SASL.Mechanism != sarama.SASLTypeOAuth {
					t.Errorf("mechanism = %v", c.Net.SASL.Mechanism)
				}
				if c.Net.SASL.TokenProvider == nil {
					t.Error("token provider not set")
				}
			},
		},
		{
			name: "unsupported mechanism",
			config: ConsumerConfig{
				SecurityProtocol: "SASL_SSL",
				SASLMechanism:    "GSSAPI",
			},
			wantErr: true,
		},
		{
			name:    "unsupported protocol",
			config:  ConsumerConfig{SecurityProtocol: "QUANTUM"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saramaConfig := sarama.NewConfig()
			err := configureSecurity(saramaConfig, tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("configureSecurity() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil && err == nil {
				tt.check(t, saramaConfig)
			}
		})
	}
}
