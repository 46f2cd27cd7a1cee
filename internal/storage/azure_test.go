package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseAzureURI(t *testing.T) {
	t.Run("real storage account", func(t *testing.T) {
		u := MustParse("azure://https://acct.blob.core.windows.net/tiles/2024/cell.las?sig=abc&se=later")
		got, err := parseAzureURI(u)
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}
		if got.account != "acct" {
			t.Errorf("account: got %q", got.account)
		}
		if got.container != "tiles" {
			t.Errorf("container: got %q", got.container)
		}
		if got.blobPath != "2024/cell.las" {
			t.Errorf("blobPath: got %q", got.blobPath)
		}
		if got.sasToken != "sig=abc&se=later" {
			t.Errorf("sasToken: got %q", got.sasToken)
		}
		if got.emulator {
			t.Error("real account flagged as emulator")
		}
	})

	t.Run("azurite", func(t *testing.T) {
		u := MustParse("azure://http://localhost:10000/devstoreaccount1/tiles/cell.las?sig=abc")
		got, err := parseAzureURI(u)
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}
		if !got.emulator {
			t.Error("azurite not recognised")
		}
		if got.account != "devstoreaccount1" || got.container != "tiles" || got.blobPath != "cell.las" {
			t.Errorf("unexpected decomposition: %+v", got)
		}
	})
}

func TestAzureBlobURLRoundTrip(t *testing.T) {
	u := MustParse("azure://https://acct.blob.core.windows.net/tiles/2024/cell.las?sig=abc")
	target, err := parseAzureURI(u)
	if err != nil {
		t.Fatal(err)
	}
	if got := target.blobURL(target.blobPath); got != u.Rest() {
		t.Errorf("blobURL round trip: got %s want %s", got, u.Rest())
	}
}

func TestAzureNavigate(t *testing.T) {
	b := AzureBackend{}

	t.Run("appends below current path", func(t *testing.T) {
		u := MustParse("azure://https://acct.blob.core.windows.net/tiles/run1?sig=abc")
		got := b.Navigate(u, "sub/cell.las")
		want := "azure://https://acct.blob.core.windows.net/tiles/run1/sub/cell.las?sig=abc"
		if got.String() != want {
			t.Errorf("got %s want %s", got, want)
		}
	})

	t.Run("container root", func(t *testing.T) {
		u := MustParse("azure://https://acct.blob.core.windows.net/tiles?sig=abc")
		got := b.Navigate(u, "cell.las")
		want := "azure://https://acct.blob.core.windows.net/tiles/cell.las?sig=abc"
		if got.String() != want {
			t.Errorf("got %s want %s", got, want)
		}
	})

	t.Run("leading slash stays relative", func(t *testing.T) {
		u := MustParse("azure://https://acct.blob.core.windows.net/tiles/run1?sig=abc")
		got := b.Navigate(u, "/cell.las")
		want := "azure://https://acct.blob.core.windows.net/tiles/run1/cell.las?sig=abc"
		if got.String() != want {
			t.Errorf("got %s want %s", got, want)
		}
	})
}

func TestCreateDownloadTemp(t *testing.T) {
	t.Run("empty tmp dir falls back to OS default", func(t *testing.T) {
		f, err := createDownloadTemp("", ".las")
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		name := f.Name()
		f.Close()
		defer os.Remove(name)
		if filepath.Dir(name) != filepath.Clean(os.TempDir()) {
			t.Errorf("temp file %s not under OS temp dir %s", name, os.TempDir())
		}
	})

	t.Run("missing tmp dir is created on demand", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "downloads")
		f, err := createDownloadTemp(dir, ".las")
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		f.Close()
		if filepath.Dir(f.Name()) != dir {
			t.Errorf("temp file %s not under %s", f.Name(), dir)
		}
	})
}
