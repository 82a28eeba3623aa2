package ipsw

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	fw, err := Lookup("iPhone4,1", "9.3.6")
	require.NoError(t, err)
	require.Equal(t, "13G37", fw.BuildID)
	require.Equal(t, "iPhone4,1_9.3.6_13G37_Restore.ipsw", fw.Filename())
	require.Equal(t, "kernelcache.release.n94", fw.Kernelcache)

	_, err = Lookup("iPhone14,2", "17.2.1")
	require.Error(t, err)
}

func TestFirmwares(t *testing.T) {
	fws := Firmwares()
	require.NotEmpty(t, fws)
	// the copy must not alias the catalog
	fws[0].Device = "modified"
	fw, err := Lookup("iPhone4,1", "9.3.6")
	require.NoError(t, err)
	require.Equal(t, "iPhone4,1", fw.Device)
}

func writeTestIPSW(t *testing.T, path string, kernelcache []byte) {
	file, err := os.Create(path)
	require.NoError(t, err)
	writer := zip.NewWriter(file)
	members := []struct {
		name string
		data []byte
	}{
		{"Restore.plist", []byte("<plist/>")},
		{"kernelcache.release.n94", kernelcache},
		{"Firmware/dfu/iBSS.n94ap.RELEASE.dfu", []byte("ibss")},
	}
	for _, member := range members {
		w, err := writer.Create(member.name)
		require.NoError(t, err)
		_, err = w.Write(member.data)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	require.NoError(t, file.Close())
}

func TestExtractKernelcache(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "test.ipsw")
	kernelcache := []byte("fake kernelcache data")
	writeTestIPSW(t, src, kernelcache)

	path, err := ExtractKernelcache(src, filepath.Join(dir, "out"))
	require.NoError(t, err)
	require.Equal(t, "kernelcache.release.n94", filepath.Base(path))
	data, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, kernelcache, data)
}

func TestExtractKernelcacheMissing(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "empty.ipsw")
	file, err := os.Create(src)
	require.NoError(t, err)
	writer := zip.NewWriter(file)
	w, err := writer.Create("Restore.plist")
	require.NoError(t, err)
	_, err = w.Write([]byte("<plist/>"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	require.NoError(t, file.Close())

	_, err = ExtractKernelcache(src, dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no kernelcache")
}

func TestVerifyArchive(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "test.ipsw")
	writeTestIPSW(t, src, []byte("fake kernelcache data"))

	require.NoError(t, VerifyArchive(src, "kernelcache.release.n94"))

	err := VerifyArchive(src, "kernelcache.release.n41")
	require.Error(t, err)
	require.Contains(t, err.Error(), "contains no")

	notZip := filepath.Join(dir, "not.ipsw")
	require.NoError(t, ioutil.WriteFile(notZip, []byte("not a zip"), 0600))
	require.Error(t, VerifyArchive(notZip, "kernelcache.release.n94"))
}

func TestRepack(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "test.ipsw")
	writeTestIPSW(t, src, []byte("original kernelcache"))

	patched := filepath.Join(dir, "kernelcache.patched")
	require.NoError(t, ioutil.WriteFile(patched, []byte("patched kernelcache"), 0600))

	dst := filepath.Join(dir, "out.ipsw")
	err := Repack(src, dst, map[string]string{"kernelcache.release.n94": patched})
	require.NoError(t, err)

	reader, err := zip.OpenReader(dst)
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()
	require.Len(t, reader.File, 3)
	found := make(map[string][]byte)
	for _, file := range reader.File {
		rc, err := file.Open()
		require.NoError(t, err)
		data, err := ioutil.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		found[file.Name] = data
	}
	require.Equal(t, []byte("patched kernelcache"), found["kernelcache.release.n94"])
	require.Equal(t, []byte("<plist/>"), found["Restore.plist"])
	require.Equal(t, []byte("ibss"), found["Firmware/dfu/iBSS.n94ap.RELEASE.dfu"])
}

func testRestoreServer(t *testing.T, content []byte) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "restore.ipsw", time.Now(), bytes.NewReader(content))
	}))
}

func testFirmware(url string, content []byte) *Firmware {
	sum := sha256.Sum256(content)
	return &Firmware{
		Device:      "iPhone4,1",
		Version:     "9.3.6",
		BuildID:     "13G37",
		URL:         url,
		SHA256:      hex.EncodeToString(sum[:]),
		Kernelcache: "kernelcache.release.n94",
	}
}

func TestDownloadTask(t *testing.T) {
	content := bytes.Repeat([]byte("lilithos"), 64*1024)
	server := testRestoreServer(t, content)
	defer server.Close()

	dir := t.TempDir()
	fw := testFirmware(server.URL, content)
	dt := NewDownloadTask(context.Background(), server.Client(), fw, dir, nil)
	require.NoError(t, dt.Start())

	data, err := ioutil.ReadFile(Path(dir, fw))
	require.NoError(t, err)
	require.Equal(t, content, data)
	require.Equal(t, "100.00%", dt.Progress())
	t.Log(dt.Detail())
}

func TestDownloadTaskResume(t *testing.T) {
	content := bytes.Repeat([]byte("lilithos"), 64*1024)
	server := testRestoreServer(t, content)
	defer server.Close()

	dir := t.TempDir()
	fw := testFirmware(server.URL, content)
	// a partial file from an interrupted run
	require.NoError(t, os.MkdirAll(dir, 0750))
	require.NoError(t, ioutil.WriteFile(Path(dir, fw), content[:1000], 0600))

	dt := NewDownloadTask(context.Background(), server.Client(), fw, dir, nil)
	require.NoError(t, dt.Start())

	data, err := ioutil.ReadFile(Path(dir, fw))
	require.NoError(t, err)
	require.Equal(t, content, data)
}

func TestDownloadTaskRestart(t *testing.T) {
	content := bytes.Repeat([]byte("lilithos"), 8*1024)
	// this server ignores the range header and always sends the
	// whole body with 200
	sawRange := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "" {
			sawRange = true
		}
		_, _ = w.Write(content)
	}))
	defer server.Close()

	dir := t.TempDir()
	fw := testFirmware(server.URL, content)
	// a partial file from an interrupted run
	require.NoError(t, ioutil.WriteFile(Path(dir, fw), content[:1000], 0600))

	dt := NewDownloadTask(context.Background(), server.Client(), fw, dir, nil)
	require.NoError(t, dt.Start())
	require.True(t, sawRange)

	// the partial prefix was discarded, not appended to
	data, err := ioutil.ReadFile(Path(dir, fw))
	require.NoError(t, err)
	require.Equal(t, content, data)
}

func TestDownloadTaskUnknownTotal(t *testing.T) {
	content := bytes.Repeat([]byte("lilithos"), 4*1024)
	// flushing before the body forces chunked encoding, the client
	// sees ContentLength -1
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		_, _ = w.Write(content)
	}))
	defer server.Close()

	dir := t.TempDir()
	fw := testFirmware(server.URL, content)
	dt := NewDownloadTask(context.Background(), server.Client(), fw, dir, nil)
	require.NoError(t, dt.Start())

	data, err := ioutil.ReadFile(Path(dir, fw))
	require.NoError(t, err)
	require.Equal(t, content, data)
	require.Equal(t, "unknown", dt.Progress())
	require.Contains(t, dt.Detail(), "unknown")
}

func TestDownloadTaskAlreadyComplete(t *testing.T) {
	content := []byte("already downloaded")
	dir := t.TempDir()
	fw := testFirmware("http://localhost/unused", content)
	require.NoError(t, ioutil.WriteFile(Path(dir, fw), content, 0600))

	// no server request happens, the local file already verifies
	dt := NewDownloadTask(context.Background(), http.DefaultClient, fw, dir, nil)
	require.NoError(t, dt.Start())
	require.Equal(t, "100%", dt.Progress())
}

func TestDownloadTaskChecksumMismatch(t *testing.T) {
	content := bytes.Repeat([]byte("lilithos"), 1024)
	server := testRestoreServer(t, content)
	defer server.Close()

	dir := t.TempDir()
	fw := testFirmware(server.URL, content)
	fw.SHA256 = hex.EncodeToString(bytes.Repeat([]byte{0xFF}, 32))

	dt := NewDownloadTask(context.Background(), server.Client(), fw, dir, nil)
	err := dt.Start()
	require.Error(t, err)
	require.Contains(t, err.Error(), "checksum mismatch")
}

func TestVerifySHA256(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file")
	content := []byte("verify me")
	require.NoError(t, ioutil.WriteFile(path, content, 0600))
	sum := sha256.Sum256(content)

	require.NoError(t, VerifySHA256(path, hex.EncodeToString(sum[:])))
	require.Error(t, VerifySHA256(path, "00"))
	require.Error(t, VerifySHA256(filepath.Join(dir, "not exist"), "00"))
}
