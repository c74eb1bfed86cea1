package main

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

var packagesCmd = &cobra.Command{
	Use:   "packages",
	Short: "Manage the package repository",
	Long: `Install and manage packages that documents can import.

Packages are downloaded from the public registry as tarballs and unpacked
into the repository layout <dir>/<namespace>/<name>/<version>. Sessions
see the repository through --package-path.`,
}

var packagesInstallCmd = &cobra.Command{
	Use:   "install @namespace/name:version ...",
	Short: "Install packages from the registry",
	Args:  cobra.MinimumNArgs(1),
	Run:   runPackagesInstall,
}

var packagesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed packages",
	Run:   runPackagesList,
}

var packagesRemoveCmd = &cobra.Command{
	Use:   "remove @namespace/name:version ...",
	Short: "Remove packages",
	Args:  cobra.MinimumNArgs(1),
	Run:   runPackagesRemove,
}

var packagesDir string

const packageRegistryURL = "https://packages.typst.org"

func init() {
	packagesCmd.PersistentFlags().StringVar(&packagesDir, "dir", defaultPackagesDir(), "Package repository directory")
	packagesCmd.AddCommand(packagesInstallCmd, packagesListCmd, packagesRemoveCmd)
	rootCmd.AddCommand(packagesCmd)
}

func defaultPackagesDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "typstgo", "packages")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "typstgo", "packages")
	}
	return filepath.Join(os.TempDir(), "typstgo-packages")
}

// parsePackageRef parses "@namespace/name:version".
func parsePackageRef(s string) (namespace, name, version string, err error) {
	if s == "" || s[0] != '@' {
		return "", "", "", fmt.Errorf("package %q: must start with '@'", s)
	}
	rest := s[1:]
	slash := strings.IndexByte(rest, '/')
	if slash <= 0 {
		return "", "", "", fmt.Errorf("package %q: missing package name", s)
	}
	namespace = rest[:slash]
	rest = rest[slash+1:]

	colon := strings.IndexByte(rest, ':')
	if colon <= 0 || colon == len(rest)-1 {
		return "", "", "", fmt.Errorf("package %q: missing version", s)
	}
	name = rest[:colon]
	version = rest[colon+1:]

	for _, component := range []string{namespace, name, version} {
		if component == "." || component == ".." || strings.ContainsAny(component, "/\\:\x00") {
			return "", "", "", fmt.Errorf("package %q: invalid component %q", s, component)
		}
	}
	return namespace, name, version, nil
}

// packageManifest is the typst.toml shape shipped inside package tarballs.
type packageManifest struct {
	Package struct {
		Name        string `toml:"name"`
		Version     string `toml:"version"`
		Entrypoint  string `toml:"entrypoint"`
		Description string `toml:"description"`
	} `toml:"package"`
}

func runPackagesInstall(cmd *cobra.Command, args []string) {
	for _, ref := range args {
		namespace, name, version, err := parsePackageRef(ref)
		if err != nil {
			fatalf("Error: %v", err)
		}
		if err := installPackage(namespace, name, version); err != nil {
			fatalf("Error installing %s: %v", ref, err)
		}
	}
	fmt.Println("Done.")
}

func installPackage(namespace, name, version string) error {
	fmt.Printf("Installing @%s/%s:%s...\n", namespace, name, version)

	url := fmt.Sprintf("%s/%s/%s-%s.tar.gz", packageRegistryURL, namespace, name, version)
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to download package: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errors.New("package not found in registry")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("registry returned status %d", resp.StatusCode)
	}

	destDir := filepath.Join(packagesDir, namespace, name, version)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("failed to create package dir: %w", err)
	}

	fmt.Printf("  Extracting...\n")
	if err := extractPackageArchive(resp.Body, destDir); err != nil {
		os.RemoveAll(destDir)
		return fmt.Errorf("failed to extract package: %w", err)
	}

	var manifest packageManifest
	if _, err := toml.DecodeFile(filepath.Join(destDir, "typst.toml"), &manifest); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: package has no readable typst.toml: %v\n", err)
		return nil
	}
	if manifest.Package.Version != "" && manifest.Package.Version != version {
		fmt.Fprintf(os.Stderr, "Warning: manifest version %s differs from requested %s\n", manifest.Package.Version, version)
	}
	if manifest.Package.Description != "" {
		fmt.Printf("  %s\n", manifest.Package.Description)
	}
	return nil
}

// extractPackageArchive unpacks a gzipped tarball. Entries resolve inside
// destDir or the whole install is rejected; only files and directories are
// materialized.
func extractPackageArchive(r io.Reader, destDir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		rel := path.Clean(hdr.Name)
		if rel == "." {
			continue
		}
		if path.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, "../") {
			return fmt.Errorf("entry %q escapes the package directory", hdr.Name)
		}
		dest := filepath.Join(destDir, filepath.FromSlash(rel))

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return err
			}
			out, err := os.Create(dest)
			if err != nil {
				return err
			}
			_, err = io.Copy(out, tr)
			out.Close()
			if err != nil {
				return err
			}
		default:
			// Symlinks and specials could point outside the repository.
			return fmt.Errorf("entry %q has unsupported type %d", hdr.Name, hdr.Typeflag)
		}
	}
}

func runPackagesList(cmd *cobra.Command, args []string) {
	refs, err := listPackages(packagesDir)
	if err != nil {
		fatalf("Error: %v", err)
	}
	if len(refs) == 0 {
		fmt.Println("No packages installed.")
		return
	}
	fmt.Printf("Packages in %s:\n", packagesDir)
	for _, ref := range refs {
		fmt.Printf("  %s\n", ref)
	}
}

func listPackages(dir string) ([]string, error) {
	namespaces, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var refs []string
	for _, ns := range namespaces {
		if !ns.IsDir() {
			continue
		}
		names, err := os.ReadDir(filepath.Join(dir, ns.Name()))
		if err != nil {
			continue
		}
		for _, name := range names {
			if !name.IsDir() {
				continue
			}
			versions, err := os.ReadDir(filepath.Join(dir, ns.Name(), name.Name()))
			if err != nil {
				continue
			}
			for _, version := range versions {
				if version.IsDir() {
					refs = append(refs, fmt.Sprintf("@%s/%s:%s", ns.Name(), name.Name(), version.Name()))
				}
			}
		}
	}
	sort.Strings(refs)
	return refs, nil
}

func runPackagesRemove(cmd *cobra.Command, args []string) {
	for _, ref := range args {
		namespace, name, version, err := parsePackageRef(ref)
		if err != nil {
			fatalf("Error: %v", err)
		}
		dir := filepath.Join(packagesDir, namespace, name, version)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: %s is not installed\n", ref)
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			fatalf("Error: failed to remove %s: %v", ref, err)
		}
		// Drop now-empty parents so list output stays clean.
		os.Remove(filepath.Join(packagesDir, namespace, name))
		os.Remove(filepath.Join(packagesDir, namespace))
		fmt.Printf("Removed %s\n", ref)
	}
}
