package core

import (
	"context"
	"fmt"

	"morphicutil/internal/catalogue"
	"morphicutil/pkg/domain"
)

// add creates the linked hierarchy strictly in dependency order: envelope,
// parent cell line, alteration processes, then each cell line with its
// products, library preparations and sequencing files depth first.
func (r *run) add(ctx context.Context) error {
	sub := r.req.Submission
	cat := r.svc.catalogue

	envelopeID, err := r.create(ctx, "create_envelope", domain.EntityEnvelope, r.req.DatasetID, nil, func(ctx context.Context) (string, error) {
		return cat.CreateEnvelope(ctx)
	})
	if err != nil {
		return err
	}
	r.envelopeID = envelopeID
	if r.svc.journal != nil {
		if err := r.svc.journal.AttachEnvelope(ctx, r.id, envelopeID); err != nil {
			r.svc.logger.Warn("journal envelope failed", "run", r.id, "error", err)
		}
	}
	r.svc.logger.Info("submission envelope created", "run", r.id, "envelope", envelopeID)
	envelope := catalogue.Ref{Collection: catalogue.CollectionEnvelopes, ID: envelopeID}

	var parent catalogue.Ref
	if p := sub.ParentCellLine; p != nil {
		id, err := r.createBiomaterial(ctx, domain.EntityParentCellLine, p.Name, &p.Remote, p.Content())
		if err != nil {
			return err
		}
		parent = biomaterial(id)
		if err := r.linkDataset(ctx, parent); err != nil {
			return err
		}
	}

	alterations := make(map[*domain.ExpressionAlteration]catalogue.Ref, len(sub.ExpressionAlterations))
	for _, alt := range sub.ExpressionAlterations {
		content := alt.Content()
		content["process_type"] = processExpressionAlteration
		id, err := r.create(ctx, "create_process", domain.EntityExpressionAlteration, alt.AlterationID, &alt.Remote, func(ctx context.Context) (string, error) {
			return cat.CreateInEnvelope(ctx, envelopeID, catalogue.CollectionProcesses, contentBody(content))
		})
		if err != nil {
			return err
		}
		proc := process(id)
		alterations[alt] = proc
		if err := r.linkDataset(ctx, proc); err != nil {
			return err
		}
		if parent.ID != "" {
			if err := r.link(ctx, domain.EntityParentCellLine, sub.ParentCellLine.Name, parent, catalogue.RelInputToProcesses, proc); err != nil {
				return err
			}
		}
	}

	for _, cl := range sub.CellLines {
		id, err := r.createBiomaterial(ctx, domain.EntityCellLine, cl.BiomaterialID, &cl.Remote, cl.Content())
		if err != nil {
			return err
		}
		ref := biomaterial(id)
		if err := r.linkDataset(ctx, ref); err != nil {
			return err
		}
		if cl.Alteration != nil {
			if err := r.link(ctx, domain.EntityCellLine, cl.BiomaterialID, ref, catalogue.RelDerivedByProcesses, alterations[cl.Alteration]); err != nil {
				return err
			}
		}
		for _, product := range cl.Products {
			if err := r.addProduct(ctx, envelope, ref, cl.BiomaterialID, product); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *run) addProduct(ctx context.Context, envelope, input catalogue.Ref, inputKey string, product *domain.DifferentiatedCellLine) error {
	ref, err := r.createDerived(ctx, envelope, input, domain.EntityCellLine, inputKey, product.Entity(), product.BiomaterialID, &product.Remote, product.Content(), processDifferentiation)
	if err != nil {
		return err
	}
	for _, lib := range product.LibraryPreparations {
		if err := r.addLibrary(ctx, envelope, ref, product, lib); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) addLibrary(ctx context.Context, envelope, input catalogue.Ref, product *domain.DifferentiatedCellLine, lib *domain.LibraryPreparation) error {
	ref, err := r.createDerived(ctx, envelope, input, product.Entity(), product.BiomaterialID, domain.EntityLibraryPreparation, lib.BiomaterialID, &lib.Remote, lib.Content(), processLibraryPreparation)
	if err != nil {
		return err
	}
	for _, file := range lib.SequencingFiles {
		if err := r.addFile(ctx, ref, lib, file); err != nil {
			return err
		}
	}
	return nil
}

// addFile creates the file as a sibling resource in the envelope and links it
// to its library preparation through a sequencing process.
func (r *run) addFile(ctx context.Context, input catalogue.Ref, lib *domain.LibraryPreparation, file *domain.SequencingFile) error {
	cat := r.svc.catalogue
	id, err := r.create(ctx, "create_file", domain.EntitySequencingFile, file.FileName, &file.Remote, func(ctx context.Context) (string, error) {
		return cat.CreateInEnvelope(ctx, r.envelopeID, catalogue.CollectionFiles, file.Document())
	})
	if err != nil {
		return err
	}
	ref := catalogue.Ref{Collection: catalogue.CollectionFiles, ID: id}
	if err := r.linkDataset(ctx, ref); err != nil {
		return err
	}
	return r.connect(ctx, input, domain.EntityLibraryPreparation, lib.BiomaterialID, ref, domain.EntitySequencingFile, file.FileName, processSequencing)
}

// createDerived creates a child biomaterial of input, attaches it to the
// envelope and dataset, and records the derivation through a process.
func (r *run) createDerived(ctx context.Context, envelope, input catalogue.Ref, inputEntity domain.EntityType, inputKey string, entity domain.EntityType, key string, remote *domain.Remote, content map[string]any, kind string) (catalogue.Ref, error) {
	cat := r.svc.catalogue
	id, err := r.create(ctx, "create_child_biomaterial", entity, key, remote, func(ctx context.Context) (string, error) {
		return cat.CreateChild(ctx, input.ID, contentBody(content))
	})
	if err != nil {
		return catalogue.Ref{}, err
	}
	ref := biomaterial(id)
	if err := r.link(ctx, entity, key, ref, catalogue.RelSubmissionEnvelopes, envelope); err != nil {
		return catalogue.Ref{}, err
	}
	if err := r.linkDataset(ctx, ref); err != nil {
		return catalogue.Ref{}, err
	}
	if err := r.connect(ctx, input, inputEntity, inputKey, ref, entity, key, kind); err != nil {
		return catalogue.Ref{}, err
	}
	return ref, nil
}

// connect creates a process of kind with input feeding it and output derived
// by it.
func (r *run) connect(ctx context.Context, input catalogue.Ref, inputEntity domain.EntityType, inputKey string, output catalogue.Ref, outputEntity domain.EntityType, outputKey, kind string) error {
	cat := r.svc.catalogue
	id, err := r.create(ctx, "create_process", domain.EntityProcess, kind+":"+outputKey, nil, func(ctx context.Context) (string, error) {
		return cat.CreateInEnvelope(ctx, r.envelopeID, catalogue.CollectionProcesses, processBody(kind, inputKey))
	})
	if err != nil {
		return err
	}
	proc := process(id)
	if err := r.linkDataset(ctx, proc); err != nil {
		return err
	}
	if err := r.link(ctx, inputEntity, inputKey, input, catalogue.RelInputToProcesses, proc); err != nil {
		return err
	}
	return r.link(ctx, outputEntity, outputKey, output, catalogue.RelDerivedByProcesses, proc)
}

func (r *run) createBiomaterial(ctx context.Context, entity domain.EntityType, key string, remote *domain.Remote, content map[string]any) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%s without natural key", entity)
	}
	return r.create(ctx, "create_biomaterial", entity, key, remote, func(ctx context.Context) (string, error) {
		return r.svc.catalogue.CreateInEnvelope(ctx, r.envelopeID, catalogue.CollectionBiomaterials, contentBody(content))
	})
}

func biomaterial(id string) catalogue.Ref {
	return catalogue.Ref{Collection: catalogue.CollectionBiomaterials, ID: id}
}

func process(id string) catalogue.Ref {
	return catalogue.Ref{Collection: catalogue.CollectionProcesses, ID: id}
}
