//go:build integration

package integration

import (
    "context"
    "crypto/rand"
    "crypto/rsa"
    "crypto/x509"
    "crypto/x509/pkix"
    "encoding/pem"
    "math/big"
    "net"
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/amirimatin/go-keeper/pkg/bootstrap"
    tlsx "github.com/amirimatin/go-keeper/pkg/security/tlsconfig"
    "github.com/amirimatin/go-keeper/pkg/store"
    "github.com/amirimatin/go-keeper/pkg/transport"
    httpjson "github.com/amirimatin/go-keeper/pkg/transport/httpjson"
)

func TestTLS_EnsembleStatusAndAddServer(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
    defer cancel()

    dir := t.TempDir()
    caCrt, _, srvCrt, srvKey, cliCrt, cliKey := mustMakeTestCerts(t, dir)

    startNode(t, ctx, bootstrap.Config{
        NodeID: "t1", RaftAddr: "127.0.0.1:9561", MemBind: "127.0.0.1:7986", MgmtAddr: "127.0.0.1:17986",
        CanLead: true, DiscoveryKind: "static", ShouldFormQuorum: true,
        TLSEnable: true, TLSCA: caCrt, TLSCert: srvCrt, TLSKey: srvKey,
    })
    startNode(t, ctx, bootstrap.Config{
        NodeID: "t2", RaftAddr: "127.0.0.1:9562", MemBind: "127.0.0.1:8986", MgmtAddr: "127.0.0.1:18986",
        CanLead: true, DiscoveryKind: "static", SeedsCSV: "127.0.0.1:7986",
        TLSEnable: true, TLSCA: caCrt, TLSCert: srvCrt, TLSKey: srvKey,
    })

    topts := tlsx.Options{Enable: true, CAFile: caCrt, CertFile: cliCrt, KeyFile: cliKey}
    cliTLS, err := topts.Client()
    if err != nil { t.Fatalf("tls client: %v", err) }
    cli := httpjson.NewClient(3 * time.Second).UseTLS(cliTLS)

    waitUntil(t, 20*time.Second, func() error {
        s, err := fetchStatus(ctx, cli, "127.0.0.1:17986")
        if err != nil { return err }
        if !s.Healthy || s.LeaderID != "t1" { return errNotYet }
        return nil
    })

    resp, err := cli.PostAddServer(ctx, "127.0.0.1:17986", transport.AddServerRequest{
        ID: "t2", RaftAddr: "127.0.0.1:9562", MgmtAddr: "127.0.0.1:18986", CanLead: true,
    })
    if err != nil { t.Fatalf("add t2: %v", err) }
    if !resp.Accepted { t.Fatalf("add t2 rejected: %s", resp.Error) }

    submit(t, ctx, cli, "127.0.0.1:17986", transport.SubmitRequest{
        XID:     "tls-1",
        Request: store.Request{Op: store.OpCreate, Path: "/tls", Data: []byte("mutual")},
    })
    got := submit(t, ctx, cli, "127.0.0.1:17986", transport.SubmitRequest{
        XID:     "tls-2",
        Request: store.Request{Op: store.OpGet, Path: "/tls"},
    })
    if string(got.Response.Data) != "mutual" { t.Fatalf("get over tls = %q", got.Response.Data) }
}

func mustMakeTestCerts(t *testing.T, dir string) (caCrt, caKey, srvCrt, srvKey, cliCrt, cliKey string) {
    t.Helper()
    caPriv, _ := rsa.GenerateKey(rand.Reader, 2048)
    caTpl := &x509.Certificate{SerialNumber: big.NewInt(1), Subject: pkix.Name{CommonName: "go-keeper-ca"}, NotBefore: time.Now().Add(-time.Hour), NotAfter: time.Now().Add(48 * time.Hour), KeyUsage: x509.KeyUsageCertSign | x509.KeyUsageCRLSign, IsCA: true, BasicConstraintsValid: true}
    caDER, _ := x509.CreateCertificate(rand.Reader, caTpl, caTpl, &caPriv.PublicKey, caPriv)
    caCrt = filepath.Join(dir, "ca.crt")
    caKey = filepath.Join(dir, "ca.key")
    writePEM(t, caCrt, "CERTIFICATE", caDER)
    writePEM(t, caKey, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(caPriv))

    makeLeaf := func(cn, crtName, keyName string, isClient bool) (string, string) {
        priv, _ := rsa.GenerateKey(rand.Reader, 2048)
        tpl := &x509.Certificate{SerialNumber: big.NewInt(time.Now().UnixNano()), Subject: pkix.Name{CommonName: cn}, NotBefore: time.Now().Add(-time.Hour), NotAfter: time.Now().Add(24 * time.Hour), KeyUsage: x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment}
        if isClient {
            tpl.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
        } else {
            tpl.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
        }
        tpl.IPAddresses = []net.IP{net.ParseIP("127.0.0.1")}
        der, _ := x509.CreateCertificate(rand.Reader, tpl, caTpl, &priv.PublicKey, caPriv)
        crtPath := filepath.Join(dir, crtName)
        keyPath := filepath.Join(dir, keyName)
        writePEM(t, crtPath, "CERTIFICATE", der)
        writePEM(t, keyPath, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(priv))
        return crtPath, keyPath
    }

    srvCrt, srvKey = makeLeaf("go-keeper-server", "server.crt", "server.key", false)
    cliCrt, cliKey = makeLeaf("go-keeper-client", "client.crt", "client.key", true)
    return
}

func writePEM(t *testing.T, path, typ string, der []byte) {
    t.Helper()
    f, err := os.Create(path)
    if err != nil { t.Fatalf("create %s: %v", path, err) }
    defer f.Close()
    if err := pem.Encode(f, &pem.Block{Type: typ, Bytes: der}); err != nil {
        t.Fatalf("pem encode %s: %v", path, err)
    }
}
