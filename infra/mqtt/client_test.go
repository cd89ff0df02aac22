package mqtt

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/curtaild/core/dispatch"
)

// helper to generate self-signed cert
func generateCert(t *testing.T) (certFile, keyFile, caFile string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen key: %v", err)
	}
	tmpl := x509.Certificate{SerialNumber: big.NewInt(1), Subject: pkix.Name{CommonName: "test"}, NotBefore: time.Now(), NotAfter: time.Now().Add(time.Hour)}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})

	dir := t.TempDir()
	certFile = dir + "/cert.pem"
	keyFile = dir + "/key.pem"
	caFile = dir + "/ca.pem"
	if err := os.WriteFile(certFile, certPEM, 0644); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0644); err != nil {
		t.Fatalf("write key: %v", err)
	}
	if err := os.WriteFile(caFile, certPEM, 0644); err != nil {
		t.Fatalf("write ca: %v", err)
	}
	return
}

func TestLoadTLSConfig(t *testing.T) {
	cert, key, ca := generateCert(t)
	cfg := Config{UseTLS: true, ClientCert: cert, ClientKey: key, CABundle: ca}
	tlsCfg, err := cfg.LoadTLSConfig()
	if err != nil {
		t.Fatalf("load tls: %v", err)
	}
	if len(tlsCfg.Certificates) == 0 {
		t.Fatalf("no certs loaded")
	}
	if tlsCfg.RootCAs == nil {
		t.Fatalf("no root CAs")
	}
}

func TestNewClientOptionsAuth(t *testing.T) {
	opts, err := NewClientOptions(Config{Broker: "tcp://localhost:1883", ClientID: "id", Username: "u", Password: "p"})
	if err != nil {
		t.Fatalf("opts: %v", err)
	}
	if opts.Username != "u" || opts.Password != "p" {
		t.Fatalf("auth not set")
	}
}

func TestSendPublishesOrder(t *testing.T) {
	mc := &mockClient{}
	newMQTTClient = func(o *paho.ClientOptions) pahoClient { mc.opts = o; return mc }
	defer func() { newMQTTClient = func(opts *paho.ClientOptions) pahoClient { return paho.NewClient(opts) } }()

	sink, err := NewPahoSink(Config{Broker: "tcp://localhost:1883", ClientID: "id", QoS: 1})
	if err != nil {
		t.Fatalf("sink: %v", err)
	}
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	req := dispatch.Request{
		MicrogridID: 7,
		Type:        dispatch.TypeChargeCurtailment,
		StartTime:   start,
		Duration:    15 * time.Minute,
		Target:      dispatch.TargetGrid,
		Payload:     map[string]float64{dispatch.PayloadPowerReduction: 5000},
	}
	if err := sink.Send(context.Background(), req); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(mc.published) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(mc.published))
	}
	if mc.published[0].topic != "microgrid/7/curtailment" {
		t.Fatalf("unexpected topic %q", mc.published[0].topic)
	}
	if mc.published[0].qos != 1 {
		t.Fatalf("publish qos not applied")
	}
	var got order
	if err := json.Unmarshal(mc.published[0].payload, &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.CommandID == "" {
		t.Fatalf("command id not set")
	}
	if got.MicrogridID != 7 || got.DurationSeconds != 900 || got.Type != dispatch.TypeChargeCurtailment {
		t.Fatalf("unexpected order %+v", got)
	}
	if got.Payload[dispatch.PayloadPowerReduction] != 5000 {
		t.Fatalf("power reduction not carried")
	}
}

func TestSendPublishError(t *testing.T) {
	mc := &mockClient{publishErrs: []error{fmt.Errorf("net fail")}}
	newMQTTClient = func(o *paho.ClientOptions) pahoClient { mc.opts = o; return mc }
	defer func() { newMQTTClient = func(opts *paho.ClientOptions) pahoClient { return paho.NewClient(opts) } }()

	sink, err := NewPahoSink(Config{Broker: "tcp://localhost:1883", ClientID: "id"})
	if err != nil {
		t.Fatalf("sink: %v", err)
	}
	if err := sink.Send(context.Background(), dispatch.Request{MicrogridID: 1}); err == nil {
		t.Fatalf("expected publish error")
	}
}

func TestMockSinkRecords(t *testing.T) {
	m := NewMockSink()
	if err := m.Send(context.Background(), dispatch.Request{MicrogridID: 3}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent := m.Sent(); len(sent) != 1 || sent[0].MicrogridID != 3 {
		t.Fatalf("unexpected sent %+v", m.Sent())
	}
	m.Reset()
	if len(m.Sent()) != 0 {
		t.Fatalf("reset did not clear")
	}
}

// mockClient implements pahoClient for tests
type mockClient struct {
	opts      *paho.ClientOptions
	published []struct {
		topic   string
		qos     byte
		payload []byte
	}
	publishErrs []error
}

func (m *mockClient) IsConnected() bool { return true }
func (m *mockClient) Connect() paho.Token {
	if m.opts != nil && m.opts.OnConnect != nil {
		m.opts.OnConnect(nil)
	}
	return &dummyToken{}
}
func (m *mockClient) Disconnect(uint) {}
func (m *mockClient) Publish(topic string, qos byte, _ bool, payload interface{}) paho.Token {
	m.published = append(m.published, struct {
		topic   string
		qos     byte
		payload []byte
	}{topic, qos, payload.([]byte)})
	if len(m.publishErrs) > 0 {
		err := m.publishErrs[0]
		m.publishErrs = m.publishErrs[1:]
		return &dummyToken{err: err}
	}
	return &dummyToken{}
}

type dummyToken struct{ err error }

func (d dummyToken) Wait() bool                     { return true }
func (d dummyToken) WaitTimeout(time.Duration) bool { return true }
func (d dummyToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (d dummyToken) Error() error                   { return d.err }
