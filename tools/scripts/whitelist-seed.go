// Package main seeds the DNS whitelist file with a default domain set.
//
// It is idempotent: domains already present are skipped, existing entries are
// never modified, and the file is rewritten through the same store code the
// server uses.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"pairgate/internal/whitelist"

	"github.com/google/uuid"
)

var defaultDomains = []string{
	"startme.com",
	"bordne.com",
	"icloud.com",
	"apple.com",
	"amazon.com",
	"chat.avatar.ext.hp.com",
	"googleapis.com",
	"tesla.com",
	"teslamotors.com",
	"sg.vzwfemto.com",
	"izatcloud.net",
	"pool.ntp.org",
}

func main() {
	var (
		path    = flag.String("file", "/data/dns_whitelist.json", "whitelist file path")
		addedBy = flag.String("added-by", "setup-script", "attribution recorded on new entries")
		timeout = flag.Duration("timeout", 10*time.Second, "overall timeout")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := seed(ctx, *path, *addedBy); err != nil {
		fmt.Fprintf(os.Stderr, "whitelist-seed: %v\n", err)
		os.Exit(1)
	}
}

func seed(ctx context.Context, path, addedBy string) error {
	store, err := whitelist.NewFileStore(path)
	if err != nil {
		return err
	}

	snap, err := store.Load(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("loaded %d existing entries from %s\n", len(snap), path)

	existing := make(map[string]bool, len(snap))
	for _, e := range snap {
		existing[e.Domain] = true
	}

	added := 0
	for _, domain := range defaultDomains {
		normalized := whitelist.NormalizeDomain(domain)
		if existing[normalized] {
			fmt.Printf("skip  %s\n", normalized)
			continue
		}
		if !whitelist.ValidDomain(normalized) {
			return fmt.Errorf("default domain %q fails validation", domain)
		}
		entry := whitelist.Entry{
			ID:      uuid.NewString(),
			Domain:  normalized,
			AddedAt: time.Now().UTC(),
			AddedBy: addedBy,
		}
		snap[entry.ID] = entry
		existing[normalized] = true
		fmt.Printf("added %s\n", normalized)
		added++
	}

	if added == 0 {
		fmt.Println("nothing to do")
		return nil
	}
	if err := store.Save(ctx, snap); err != nil {
		return err
	}
	fmt.Printf("saved %d entries (%d new)\n", len(snap), added)
	return nil
}
