// Command assetctl inspects and maintains an offline asset cache root.
//
// Usage:
//
//	assetctl -root DIR stats
//	assetctl -root DIR clean
//	assetctl -root DIR trim BYTES
//	assetctl -root DIR clear
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/meigma/assetcache"
)

func main() {
	root := flag.String("root", "", "cache root directory")
	verbose := flag.Bool("v", false, "log cache diagnostics to stderr")
	flag.Parse()

	if *root == "" || flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	if !*verbose {
		log.SetLevel(logrus.WarnLevel)
	}

	if err := run(*root, log, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "assetctl:", err)
		os.Exit(1)
	}
}

func run(root string, log *logrus.Logger, args []string) error {
	c, err := assetcache.New(root, assetcache.WithLogger(log))
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := context.Background()
	switch args[0] {
	case "stats":
		return stats(ctx, c)
	case "clean":
		return c.CleanNow(ctx)
	case "trim":
		if len(args) < 2 {
			return fmt.Errorf("trim requires a byte count")
		}
		want, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("parse byte count: %w", err)
		}
		res, err := c.Trim(ctx, want)
		if err != nil {
			return err
		}
		fmt.Printf("trimmed %d users, %d assets, freed %d bytes\n",
			len(res.Users), len(res.Paths), res.Freed)
		return nil
	case "clear":
		done := make(chan error, 1)
		if err := c.ClearOfflineContent(nil, func(err error) { done <- err }); err != nil {
			return err
		}
		return <-done
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func stats(ctx context.Context, c *assetcache.Cache) error {
	if err := c.Store().Await(ctx); err != nil {
		return err
	}
	fmt.Printf("cache size:    %d bytes\n", c.CacheSize())
	fmt.Printf("tracked bytes: %d\n", c.Store().TotalBytes())
	limit := c.CacheLimit()
	if limit > 0 {
		fmt.Printf("limit:         %d bytes (usable %d)\n", limit, c.ActualCacheLimit())
		fmt.Printf("to trim:       %d bytes\n", c.CacheSizeToTrim())
	} else {
		fmt.Println("limit:         none")
	}
	fmt.Printf("restricted:    %v\n", c.DownloadsRestricted())
	return nil
}
