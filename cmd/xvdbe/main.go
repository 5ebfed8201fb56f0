package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/zhukovaskychina/xvdbe/conf"
	"github.com/zhukovaskychina/xvdbe/engine"
	"github.com/zhukovaskychina/xvdbe/logger"
)

const help = `
******************************************************************************************
*usage: xvdbe [-config file] <command> [arguments]
*
*1. check   [-max n] db...     integrity check, several files are checked in parallel
*2. info    db...              header, tables and size
*3. backup  db out            write an lz4 compressed copy of db to out ("-" is stdout)
*4. restore in db             create db from a backup ("-" is stdin)
******************************************************************************************
`

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "configuration file (.ini or .toml)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, help) }
	flag.Parse()

	cfg, err := conf.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "xvdbe: %v\n", err)
		os.Exit(2)
	}
	if err := logger.InitLogger(logger.LogConfig{
		ErrorLogPath: cfg.Logs.LogError,
		InfoLogPath:  cfg.Logs.LogInfos,
		LogLevel:     cfg.Logs.LogLevel,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "xvdbe: %v\n", err)
		os.Exit(2)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "check":
		err = runCheck(cfg, rest)
	case "info":
		err = runInfo(cfg, rest)
	case "backup":
		err = runBackup(cfg, rest)
	case "restore":
		err = runRestore(rest)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Errorf("%s: %v", cmd, err)
		fmt.Fprintf(os.Stderr, "xvdbe %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func open(cfg *conf.Cfg, path string) (*engine.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "database %s", path)
	}
	return engine.Open(engine.Options{Path: path, Config: cfg})
}

func runCheck(cfg *conf.Cfg, args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	maxFindings := fs.Int("max", cfg.Integrity.MaxFindings, "stop after this many findings")
	fs.Parse(args)
	if fs.NArg() == 0 {
		return errors.New("no database given")
	}

	var (
		mu      sync.Mutex
		damaged []string
		g       errgroup.Group
	)
	for _, path := range fs.Args() {
		path := path
		g.Go(func() error {
			db, err := open(cfg, path)
			if err != nil {
				return err
			}
			defer db.Close()
			findings, err := db.IntegrityCheck(*maxFindings)

			mu.Lock()
			defer mu.Unlock()
			for _, f := range findings {
				fmt.Printf("%s: %s\n", path, f)
			}
			if err != nil {
				return errors.Wrapf(err, "check %s", path)
			}
			if len(findings) != 1 || findings[0] != "ok" {
				damaged = append(damaged, path)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(damaged) > 0 {
		return errors.Errorf("damaged: %s", strings.Join(damaged, ", "))
	}
	return nil
}

func runInfo(cfg *conf.Cfg, args []string) error {
	if len(args) == 0 {
		return errors.New("no database given")
	}
	for _, path := range args {
		if err := printInfo(cfg, path); err != nil {
			return err
		}
	}
	return nil
}

func printInfo(cfg *conf.Cfg, path string) error {
	db, err := open(cfg, path)
	if err != nil {
		return err
	}
	defer db.Close()
	info, err := db.Info()
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", path)
	fmt.Printf("  page size       %s\n", humanize.IBytes(uint64(info.PageSize)))
	fmt.Printf("  pages           %s (%s free)\n", humanize.Comma(int64(info.PageCount)), humanize.Comma(int64(info.FreelistCount)))
	fmt.Printf("  size            %s\n", humanize.IBytes(info.Size()))
	fmt.Printf("  schema version  %d\n", info.Generation)
	fmt.Printf("  user version    %d\n", info.UserVersion)
	fmt.Printf("  tables          %s\n", strings.Join(info.Tables, ", "))
	return nil
}

func runBackup(cfg *conf.Cfg, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: backup db out")
	}
	db, err := open(cfg, args[0])
	if err != nil {
		return err
	}
	defer db.Close()

	var w io.Writer = os.Stdout
	if args[1] != "-" {
		f, err := os.OpenFile(args[1], os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	n, err := db.Backup(w)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "backed up %s pages\n", humanize.Comma(int64(n)))
	return nil
}

func runRestore(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: restore in db")
	}
	var r io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	n, err := engine.RestoreFile(r, args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "restored %s pages\n", humanize.Comma(int64(n)))
	return nil
}
