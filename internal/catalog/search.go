package catalog

import (
	"sort"
	"strings"
)

const defaultLimit = 20

// Item is one avatar template or voice.
type Item struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Name       string `json:"name"`
	Category   string `json:"category"`
	Gender     string `json:"gender,omitempty"`
	PreviewURL string `json:"preview_url,omitempty"`
}

type scoredItem struct {
	Item  Item
	Score int
}

// Search ranks items against query. kind narrows the result to one kind.
// Without a query, items are ordered by kind, category and name. Unless full
// is set, at most defaultLimit items are returned.
func Search(items []Item, query, kind string, full bool) []Item {
	kind = strings.TrimSpace(strings.ToLower(kind))
	query = strings.TrimSpace(strings.ToLower(query))

	if query == "" {
		res := make([]Item, 0, len(items))
		for _, item := range items {
			if kind == "" || item.Kind == kind {
				res = append(res, item)
			}
		}
		sort.SliceStable(res, func(i, j int) bool {
			if res[i].Kind != res[j].Kind {
				return res[i].Kind < res[j].Kind
			}
			left, right := strings.ToLower(res[i].Category), strings.ToLower(res[j].Category)
			if left == right {
				return strings.ToLower(res[i].Name) < strings.ToLower(res[j].Name)
			}
			return left < right
		})
		if full {
			return res
		}
		return topN(res, defaultLimit)
	}

	tokens := tokenizeQuery(query)
	var scored []scoredItem
	for _, item := range items {
		if score := matchScore(item, tokens, kind); score > 0 {
			scored = append(scored, scoredItem{Item: item, Score: score})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score == scored[j].Score {
			return strings.ToLower(scored[i].Item.Name) < strings.ToLower(scored[j].Item.Name)
		}
		return scored[i].Score > scored[j].Score
	})

	res := make([]Item, 0, len(scored))
	for _, sc := range scored {
		res = append(res, sc.Item)
	}
	if full {
		return res
	}
	return topN(res, defaultLimit)
}

func matchScore(item Item, tokens []string, kind string) int {
	if kind != "" && item.Kind != kind {
		return 0
	}

	name := strings.ToLower(item.Name)
	id := strings.ToLower(item.ID)
	category := strings.ToLower(item.Category)
	gender := strings.ToLower(item.Gender)

	score := 0
	for _, token := range tokens {
		if strings.Contains(name, token) {
			score += 4
		}
		if strings.Contains(id, token) {
			score += 5
		}
		if strings.Contains(category, token) {
			score += 3
		}
		if gender != "" && gender == token {
			score += 3
		}
	}
	return score
}

func topN(items []Item, n int) []Item {
	if len(items) <= n {
		return items
	}
	return items[:n]
}

// Categories lists the distinct categories of items in first-seen order with
// their item counts.
func Categories(items []Item) []Category {
	grouped, order := groupByCategory(items)
	out := make([]Category, 0, len(order))
	for _, name := range order {
		out = append(out, Category{Name: name, Count: len(grouped[name])})
	}
	return out
}

// Category is a named group of items.
type Category struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func groupByCategory(items []Item) (map[string][]Item, []string) {
	grouped := map[string][]Item{}
	order := []string{}
	for _, item := range items {
		category := strings.TrimSpace(item.Category)
		if category == "" {
			category = "other"
		}
		if _, ok := grouped[category]; !ok {
			order = append(order, category)
		}
		grouped[category] = append(grouped[category], item)
	}
	return grouped, order
}

func tokenizeQuery(query string) []string {
	if query == "" {
		return nil
	}
	query = strings.NewReplacer(".", " ", ",", " ", "_", " ", "-", " ").Replace(query)
	raw := strings.Fields(query)
	tokens := make([]string, 0, len(raw))
	for _, token := range raw {
		if token = strings.ToLower(token); token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens
}
