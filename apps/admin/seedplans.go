package main

import (
	"context"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/lim5max/checklytool/core"
	"github.com/lim5max/checklytool/core/billing"
)

type plansFile struct {
	Plans []billing.Plan `yaml:"plans"`
}

func defaultPlansFile() string {
	return filepath.Join(core.Getwd(), "assets", "plans.yaml")
}

// seedPlans upserts the plans of a YAML file by name. Plans missing from the file are left untouched.
func (cli *commandLine) seedPlans(path string) error {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading %s", path)
	}
	var pf plansFile
	if err = yaml.Unmarshal(data, &pf); err != nil {
		return errors.Wrapf(err, "decoding %s", path)
	}
	if len(pf.Plans) == 0 {
		return errors.Errorf("%s: no plans", path)
	}

	ctx := context.Background()
	for _, plan := range pf.Plans {
		if err = plan.Validate(cli.validate); err != nil {
			return errors.Wrapf(err, "plan %q", plan.Name)
		}

		now := time.Now().UTC()
		plan.CreatedAt, plan.UpdatedAt = now, now
		saved, err := cli.billingRepo.UpsertPlan(ctx, plan)
		if err != nil {
			return errors.Wrapf(err, "saving plan %q", plan.Name)
		}
		fmt.Printf("plan %q saved (id %s)\n", saved.Name, saved.ID)
	}
	return nil
}
