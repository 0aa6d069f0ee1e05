package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// BotProfile 描述单个机器人：人格提示词、模型绑定、交易模式与币种白名单。
type BotProfile struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	Prompt    string   `yaml:"prompt"`
	Provider  string   `yaml:"provider"`
	Mode      string   `yaml:"mode"`
	Paused    bool     `yaml:"paused"`
	Symbols   []string `yaml:"symbols"`
	Iterative bool     `yaml:"iterative"`

	Exchange ExchangeCredentials `yaml:"exchange"`
}

// ExchangeCredentials 实盘模式下的交易所凭证。
type ExchangeCredentials struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

// OwnerProfile 对应 profiles 目录下一个 YAML 文件：一个 owner 及其机器人列表。
type OwnerProfile struct {
	Owner string       `yaml:"owner"`
	Bots  []BotProfile `yaml:"bots"`
}

func (p BotProfile) normalized(file string, idx int) (BotProfile, error) {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return p, fmt.Errorf("%s: bots[%d] missing id", file, idx)
	}
	if strings.TrimSpace(p.Name) == "" {
		p.Name = p.ID
	}
	mode := strings.ToLower(strings.TrimSpace(p.Mode))
	if mode == "" {
		mode = "paper"
	}
	if mode != "paper" && mode != "real" {
		return p, fmt.Errorf("%s: bot %s has invalid mode %q", file, p.ID, p.Mode)
	}
	p.Mode = mode
	if p.Mode == "real" && strings.TrimSpace(p.Exchange.APIKey) == "" {
		return p, fmt.Errorf("%s: bot %s is real mode but has no exchange.api_key", file, p.ID)
	}
	for i, s := range p.Symbols {
		p.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	return p, nil
}

// LoadDir 读取目录下所有 *.yaml / *.yml，按文件名排序，返回 owner 列表。
func LoadDir(dir string) ([]OwnerProfile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading profiles dir failed: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	owners := make([]OwnerProfile, 0, len(files))
	seenOwner := make(map[string]string)
	seenBot := make(map[string]string)
	for _, file := range files {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		var op OwnerProfile
		if err := yaml.Unmarshal(raw, &op); err != nil {
			return nil, fmt.Errorf("parsing %s failed: %w", file, err)
		}
		op.Owner = strings.TrimSpace(op.Owner)
		if op.Owner == "" {
			return nil, fmt.Errorf("%s: missing owner", file)
		}
		if prev, dup := seenOwner[op.Owner]; dup {
			return nil, fmt.Errorf("%s: owner %q already declared in %s", file, op.Owner, prev)
		}
		seenOwner[op.Owner] = file
		for i := range op.Bots {
			bot, err := op.Bots[i].normalized(file, i)
			if err != nil {
				return nil, err
			}
			if prev, dup := seenBot[bot.ID]; dup {
				return nil, fmt.Errorf("%s: bot id %q already declared in %s", file, bot.ID, prev)
			}
			seenBot[bot.ID] = file
			op.Bots[i] = bot
		}
		owners = append(owners, op)
	}
	return owners, nil
}
