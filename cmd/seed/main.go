package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/alphabot-ai/threadly/internal/client"
	"github.com/alphabot-ai/threadly/internal/model"
)

var users = []string{"ada", "grace", "linus", "ken", "barbara"}

var communities = []struct {
	name    string
	privacy model.PrivacyType
}{
	{"golang", model.PrivacyPublic},
	{"databases", model.PrivacyPublic},
	{"distributed", model.PrivacyRestricted},
	{"homelab", model.PrivacyPublic},
}

var posts = []struct {
	community string
	title     string
	body      string
}{
	{"golang", "Range over func finally landed", "Iterators feel natural once you stop fighting them."},
	{"golang", "errgroup vs. WaitGroup in 2026", ""},
	{"golang", "Show: a tiny document store on database/sql", "JSON in a table, a sequence counter and LISTEN for pushes."},
	{"databases", "Why my query planner ignored the index", "Collation mismatch. Always the collation."},
	{"databases", "Repeatable read is not serializable", ""},
	{"distributed", "Last writer wins is a policy, not a bug", "Pick one on purpose."},
	{"distributed", "Sequence numbers beat wall clocks", ""},
	{"homelab", "Rack is finally cable managed", "Photos in the comments."},
	{"homelab", "UPS recommendations under 300W?", ""},
}

var comments = []string{
	"Great write-up, thanks.",
	"I hit the same thing last week.",
	"Do you have numbers for this?",
	"Strong disagree, but upvoted for the discussion.",
	"This should be in the docs.",
	"Bookmarking for later.",
	"Works on my machine.",
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "threadly server URL")
	flag.Parse()
	ctx := context.Background()

	log.Printf("Seeding %s...", *baseURL)

	var clients []*client.Client
	for _, name := range users {
		creds, err := client.GenerateCredentials(name)
		if err != nil {
			log.Fatalf("generate credentials for %s: %v", name, err)
		}
		c := client.New(*baseURL)
		if _, err := c.Register(ctx, creds); err != nil {
			log.Fatalf("register %s: %v", name, err)
		}
		log.Printf("✓ Registered %s", name)
		clients = append(clients, c)
	}

	for i, cm := range communities {
		owner := clients[i%len(clients)]
		if _, err := owner.CreateCommunity(ctx, cm.name, cm.privacy); err != nil {
			log.Printf("✗ Failed to create r/%s: %v", cm.name, err)
			continue
		}
		log.Printf("✓ Created r/%s (by %s)", cm.name, users[i%len(users)])
		for j, c := range clients {
			if j == i%len(clients) || rand.Float32() < 0.4 {
				continue
			}
			if _, err := c.Join(ctx, cm.name); err != nil {
				log.Printf("✗ %s failed to join r/%s: %v", users[j], cm.name, err)
			}
		}
	}

	var postIDs []string
	for _, p := range posts {
		idx := rand.Intn(len(clients))
		post, err := clients[idx].CreatePost(ctx, client.NewPost{CommunityID: p.community, Title: p.title, Body: p.body})
		if err != nil {
			log.Printf("✗ Failed to post: %v", err)
			continue
		}
		postIDs = append(postIDs, post.ID)
		log.Printf("✓ Posted %s in r/%s (by %s)", post.ID, p.community, users[idx])

		// Spread out createdAt so ordering is visible.
		time.Sleep(20 * time.Millisecond)
	}

	for _, id := range postIDs {
		for i := rand.Intn(4); i > 0; i-- {
			idx := rand.Intn(len(clients))
			if _, err := clients[idx].Comment(ctx, id, comments[rand.Intn(len(comments))]); err != nil {
				log.Printf("✗ Failed to comment: %v", err)
			}
		}
	}

	votes := 0
	for _, c := range clients {
		for _, id := range postIDs {
			if rand.Float32() < 0.5 {
				continue
			}
			value := 1
			if rand.Float32() < 0.2 {
				value = -1
			}
			if _, err := c.Vote(ctx, id, value); err == nil {
				votes++
			}
		}
	}
	log.Printf("✓ Cast %d votes", votes)

	fmt.Println("\n=== Seed Complete ===")
	fmt.Printf("Users:       %d\n", len(users))
	fmt.Printf("Communities: %d\n", len(communities))
	fmt.Printf("Posts:       %d\n", len(postIDs))
	fmt.Println("\nServer:", *baseURL)
}
