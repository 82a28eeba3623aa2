package main

import (
	"context"
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/akamensky/argparse"
	"github.com/fatih/color"
	"github.com/pkg/errors"

	"lilithos/internal/checkup"
	"lilithos/internal/config"
	"lilithos/internal/ipsw"
	"lilithos/internal/kernel/image"
	"lilithos/internal/kernel/patcher"
	"lilithos/internal/kernel/signature"
	"lilithos/internal/logger"
)

func main() {
	parser := argparse.NewParser("lilithos", "kernelcache patch utility for iOS 9.3.6 on iPhone 4S")
	configPath := parser.String("c", "config", &argparse.Options{
		Default: "config.toml", Help: "configuration file",
	})

	downloadCmd := parser.NewCommand("download", "download the restore file for the configured device")

	extractCmd := parser.NewCommand("extract", "extract the kernelcache from a restore file")
	extractSrc := extractCmd.String("i", "ipsw", &argparse.Options{Help: "restore file, default the downloaded one"})

	patchCmd := parser.NewCommand("patch", "apply the patch table to a kernelcache")
	patchImage := patchCmd.String("k", "kernelcache", &argparse.Options{Required: true, Help: "kernelcache file"})

	verifyCmd := parser.NewCommand("verify", "verify each patch held or was never applied")
	verifyImage := verifyCmd.String("k", "kernelcache", &argparse.Options{Required: true, Help: "kernelcache file"})

	revertCmd := parser.NewCommand("revert", "restore the original words")
	revertImage := revertCmd.String("k", "kernelcache", &argparse.Options{Required: true, Help: "kernelcache file"})

	repackCmd := parser.NewCommand("repack", "write a restore file with the patched kernelcache")
	repackSrc := repackCmd.String("i", "ipsw", &argparse.Options{Required: true, Help: "source restore file"})
	repackKC := repackCmd.String("k", "kernelcache", &argparse.Options{Required: true, Help: "patched kernelcache"})
	repackDst := repackCmd.String("o", "output", &argparse.Options{Required: true, Help: "output restore file"})

	checkCmd := parser.NewCommand("check", "run staged integrity checks against a kernelcache")
	checkImage := checkCmd.String("k", "kernelcache", &argparse.Options{Required: true, Help: "kernelcache file"})
	checkSrc := checkCmd.String("i", "ipsw", &argparse.Options{Help: "restore file to include in the checks"})
	checkJSON := checkCmd.Flag("j", "json", &argparse.Options{Help: "print the report as JSON"})

	infoCmd := parser.NewCommand("info", "print the firmware entry and the patch table")

	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(2)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalln(err)
	}
	switch {
	case downloadCmd.Happened():
		err = runDownload(cfg)
	case extractCmd.Happened():
		err = runExtract(cfg, *extractSrc)
	case patchCmd.Happened():
		err = runOp(cfg, patcher.OpApply, *patchImage)
	case verifyCmd.Happened():
		err = runOp(cfg, patcher.OpVerify, *verifyImage)
	case revertCmd.Happened():
		err = runOp(cfg, patcher.OpRevert, *revertImage)
	case repackCmd.Happened():
		err = runRepack(cfg, *repackSrc, *repackKC, *repackDst)
	case checkCmd.Happened():
		err = runCheck(cfg, *checkImage, *checkSrc, *checkJSON)
	case infoCmd.Happened():
		err = runInfo(cfg)
	}
	if err != nil {
		log.Fatalln(err)
	}
}

func runDownload(cfg *config.Config) error {
	fw, err := ipsw.Lookup(cfg.Device, cfg.Version)
	if err != nil {
		return err
	}
	fmt.Printf("download %s to %s\n", fw.Filename(), cfg.Downloads)
	client := &http.Client{}
	dt := ipsw.NewDownloadTask(context.Background(), client, fw, cfg.Downloads, nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fmt.Printf("\r%s  %s        ", dt.Progress(), dt.Detail())
			case <-done:
				return
			}
		}
	}()
	err = dt.Start()
	done <- struct{}{}
	fmt.Println()
	if err != nil {
		return err
	}
	fmt.Println(color.GreenString("download complete"))
	return nil
}

func runExtract(cfg *config.Config, src string) error {
	if src == "" {
		fw, err := ipsw.Lookup(cfg.Device, cfg.Version)
		if err != nil {
			return err
		}
		src = ipsw.Path(cfg.Downloads, fw)
	}
	path, err := ipsw.ExtractKernelcache(src, cfg.Downloads)
	if err != nil {
		return err
	}
	fmt.Printf("extracted %s\n", path)
	return nil
}

// machoResolver resolves signatures against the raw file bytes and
// converts the matched file offset to the virtual address the
// Mach-O image expects.
type machoResolver struct {
	inner *signature.Resolver
	kc    *image.Kernelcache
}

func (r *machoResolver) Resolve(sig string) (uint64, error) {
	offset, err := r.inner.Resolve(sig)
	if err != nil {
		return 0, err
	}
	return r.kc.AddrOf(offset)
}

// openImage opens a kernelcache, a file that does not parse as Mach-O
// is treated as a raw dump based at the configured virtual base.
func openImage(cfg *config.Config, lg logger.Logger, path string) (image.Image, *signature.Resolver, func() error, error) {
	data, err := ioutil.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "failed to read kernelcache")
	}
	kc, err := image.OpenKernelcache(path)
	if err == nil {
		return kc, signature.NewResolver(data, 0), kc.Close, nil
	}
	lg.Printf(logger.Warning, "main", "not a Mach-O image (%s), fallback to raw mode", err)
	file, err := image.OpenFile(path)
	if err != nil {
		return nil, nil, nil, err
	}
	base := cfg.Patcher.Base
	img := image.WithBase(file, base)
	return img, signature.NewResolver(data, base), file.Close, nil
}

// newApplier opens the kernelcache and builds an applier over the
// configured patch table, the returned function closes the image.
func newApplier(cfg *config.Config, lg logger.Logger, path string) (*patcher.Applier, func() error, error) {
	img, resolver, closeImage, err := openImage(cfg, lg, path)
	if err != nil {
		return nil, nil, err
	}
	err = resolver.UseCache(cfg.Patcher.Cache)
	if err != nil {
		_ = closeImage()
		return nil, nil, err
	}
	policy, _ := cfg.Policy()
	var pr patcher.Resolver = resolver
	if kc, ok := img.(*image.Kernelcache); ok {
		pr = &machoResolver{inner: resolver, kc: kc}
	}
	applier := patcher.NewApplier(img, cfg.Table(), &patcher.Options{
		Resolver: pr,
		Policy:   policy,
		Logger:   lg,
	})
	return applier, closeImage, nil
}

func runOp(cfg *config.Config, op, path string) error {
	level, _ := cfg.LogLevel()
	lg := logger.NewCommon(level)
	applier, closeImage, err := newApplier(cfg, lg, path)
	if err != nil {
		return err
	}
	defer func() { _ = closeImage() }()
	ctx := context.Background()
	var report *patcher.Report
	switch op {
	case patcher.OpApply:
		report = applier.ApplyAll(ctx)
	case patcher.OpVerify:
		report = applier.VerifyAll(ctx)
	case patcher.OpRevert:
		report = applier.RevertAll(ctx)
	}
	fmt.Print(report)
	if !report.OK() {
		return errors.New(color.RedString("%s failed: %s", op, report.Summary()))
	}
	fmt.Println(color.GreenString("%s succeeded", op))
	return nil
}

// runCheck executes the staged checks the way a restore would need
// them: the archive is sound, the kernelcache opens, every patch held
// or was never applied.
func runCheck(cfg *config.Config, path, src string, asJSON bool) error {
	level, _ := cfg.LogLevel()
	lg := logger.NewCommon(level)
	var stages []checkup.Stage
	if src != "" {
		fw, err := ipsw.Lookup(cfg.Device, cfg.Version)
		if err != nil {
			return err
		}
		stages = append(stages, checkup.Stage{
			Name: "restore file",
			Run: func(context.Context) error {
				return ipsw.VerifyArchive(src, fw.Kernelcache)
			},
		})
	}
	stages = append(stages,
		checkup.Stage{
			Name: "kernelcache image",
			Run: func(context.Context) error {
				img, _, closeImage, err := openImage(cfg, lg, path)
				if err != nil {
					return err
				}
				if img.Size() < image.WordSize {
					_ = closeImage()
					return errors.New("kernelcache image is empty")
				}
				return closeImage()
			},
		},
		checkup.Stage{
			Name: "patch table",
			Run: func(ctx context.Context) error {
				applier, closeImage, err := newApplier(cfg, lg, path)
				if err != nil {
					return err
				}
				defer func() { _ = closeImage() }()
				report := applier.VerifyAll(ctx)
				if !report.OK() {
					return errors.Errorf("verify failed: %s", report.Summary())
				}
				return nil
			},
		},
	)
	report := checkup.Run(context.Background(), lg, stages)
	if asJSON {
		data, err := report.JSON()
		if err != nil {
			return err
		}
		fmt.Printf("%s\n", data)
	} else {
		fmt.Print(report)
	}
	if !report.OK() {
		return errors.New(color.RedString("check failed: %s", report.Summary()))
	}
	fmt.Println(color.GreenString("check passed"))
	return nil
}

func runRepack(cfg *config.Config, src, kernelcache, dst string) error {
	fw, err := ipsw.Lookup(cfg.Device, cfg.Version)
	if err != nil {
		return err
	}
	err = ipsw.Repack(src, dst, map[string]string{fw.Kernelcache: kernelcache})
	if err != nil {
		return err
	}
	fmt.Printf("repacked %s\n", dst)
	fmt.Println("the output is unsigned, sign it before restore")
	return nil
}

func runInfo(cfg *config.Config) error {
	fw, err := ipsw.Lookup(cfg.Device, cfg.Version)
	if err != nil {
		return err
	}
	fmt.Printf("device:      %s\n", fw.Device)
	fmt.Printf("version:     %s (%s)\n", fw.Version, fw.BuildID)
	fmt.Printf("restore:     %s\n", fw.Filename())
	fmt.Printf("kernelcache: %s\n", fw.Kernelcache)
	fmt.Printf("patches:     %d\n", len(cfg.Patches))
	for _, d := range cfg.Table().Descriptors() {
		fmt.Printf("  0x%08X  %s -> %s  %s\n", d.Offset,
			patcher.DecodeARM(d.Original), patcher.DecodeARM(d.Patched), d.Description)
	}
	return nil
}
