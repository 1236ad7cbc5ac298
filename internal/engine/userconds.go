package engine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"automod/internal/rules"
	"automod/internal/site"
)

var operatorPrefix = regexp.MustCompile(`^(==?|<|>) `)

var rankValues = map[string]int{
	"user":        0,
	"contributor": 1,
	"moderator":   2,
}

// Clause evaluation order. Map iteration is randomized; the result is
// order-independent but user fetch errors should surface deterministically.
var userConditionOrder = []string{
	"account_age", "combined_karma", "comment_karma", "is_gold", "link_karma", "rank",
}

// checkUserConditions evaluates a condition's author requirements. With
// must_satisfy=all every clause must hold; with any, one suffices. A vacuous
// `any` (no clauses) succeeds. A 404 fetching the user means shadowbanned or
// deleted: the condition never applies.
func (m *Matcher) checkUserConditions(ctx context.Context, c *rules.Condition, item *site.Item) (bool, error) {
	if len(c.UserConditions) == 0 {
		return true, nil
	}

	mustSatisfy := "all"
	if s, ok := c.UserConditions["must_satisfy"].(string); ok {
		mustSatisfy = s
	}

	var user *site.User
	fetched := false
	fetchUser := func() (*site.User, error) {
		if fetched || item.Author == "" {
			return user, nil
		}
		fetched = true
		u, err := m.client.User(ctx, item.Author)
		if err != nil {
			return nil, err
		}
		user = u
		return user, nil
	}

	evaluated := false
	for _, attr := range userConditionOrder {
		raw, ok := c.UserConditions[attr]
		if !ok {
			continue
		}
		evaluated = true

		op, operand := parseComparison(raw)

		var compare int
		if attr == "rank" {
			compare = rankValues[operand]
		} else if n, err := strconv.Atoi(operand); err == nil {
			compare = n
		}

		value := 0
		if item.Author != "" {
			switch attr {
			case "rank":
				rank, err := m.ranks.Rank(ctx, item.Author, item.Community)
				if err != nil {
					return false, err
				}
				value = rankValues[rank]
			default:
				u, err := fetchUser()
				if site.IsNotFound(err) {
					m.log.Debug("user shadowbanned or deleted",
						zap.String("user", item.Author))
					return false, nil
				}
				if err != nil {
					return false, err
				}
				if u != nil {
					switch attr {
					case "account_age":
						value = int(time.Since(u.Created).Hours() / 24)
					case "combined_karma":
						value = u.LinkKarma + u.CommentKarma
					case "comment_karma":
						value = u.CommentKarma
					case "link_karma":
						value = u.LinkKarma
					case "is_gold":
						if u.IsGold {
							value = 1
						}
					}
				}
			}
		}

		result := compareValues(value, op, compare)
		if result && mustSatisfy == "any" {
			return true, nil
		}
		if !result && mustSatisfy == "all" {
			return false, nil
		}
	}

	// must_satisfy=any with clauses reaching here means none held.
	if mustSatisfy == "any" && evaluated {
		return false, nil
	}
	return true, nil
}

// parseComparison splits an operator-prefixed comparison spec into its
// operator (`=` by default, with `==` normalized) and operand. Bools compare
// against 1/0.
func parseComparison(raw interface{}) (op, operand string) {
	op = "="
	switch v := raw.(type) {
	case bool:
		if v {
			return op, "1"
		}
		return op, "0"
	case int:
		return op, strconv.Itoa(v)
	case string:
		s := v
		if m := operatorPrefix.FindString(s); m != "" {
			op = strings.TrimSpace(m)
			if op == "==" {
				op = "="
			}
			s = strings.TrimSpace(s[len(m):])
		}
		return op, s
	default:
		return op, fmt.Sprint(raw)
	}
}

func compareValues(value int, op string, compare int) bool {
	switch op {
	case "<":
		return value < compare
	case ">":
		return value > compare
	default:
		return value == compare
	}
}
