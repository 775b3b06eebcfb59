package spreadsheet

// Sheet names as they appear in the submission template. Lookups trim
// surrounding whitespace and ignore case.
var (
	cellLineSheets             = []string{"Cell line", "Clonal cell line"}
	differentiatedSheets       = []string{"Differentiated cell line", "Differentiated product"}
	undifferentiatedSheets     = []string{"Undifferentiated product", "Undifferentiated cell line"}
	libraryPreparationSheets   = []string{"Library preparation"}
	sequencingFileSheets       = []string{"Sequence file"}
	expressionAlterationSheets = []string{"Expression alteration strategy"}
)

// IDColumn holds the catalogue identifier written back after submission.
const IDColumn = "Id"

const (
	colCellLineID             = "cell_line.biomaterial_core.biomaterial_id"
	colCellLineDescription    = "cell_line.biomaterial_core.biomaterial_description"
	colCellLineDerived        = "cell_line.derived_cell_line_accession"
	colCellLineCloneID        = "cell_line.clone_id"
	colCellLineZygosity       = "cell_line.zygosity"
	colCellLineType           = "cell_line.type"
	colExpressionAlterationID = "expression_alteration_id"

	colProductID          = "differentiated_cell_line.biomaterial_core.biomaterial_id"
	colProductDescription = "differentiated_cell_line.biomaterial_core.biomaterial_description"
	colProductProtocol    = "differentiation_protocol.protocol_core.protocol_id"
	colProductTimepoint   = "differentiated_cell_line.timepoint_value"
	colProductTimeUnit    = "differentiated_cell_line.timepoint_unit.text"
	colProductTerminal    = "differentiated_cell_line.terminally_differentiated"
	colProductModelOrgan  = "differentiated_cell_line.model_organ.text"

	colLibraryID            = "library_preparation.biomaterial_core.biomaterial_id"
	colDissociationProtocol = "dissociation_protocol.protocol_core.protocol_id"
	colLibraryProtocol      = "library_preparation_protocol.protocol_core.protocol_id"
	colAverageFragmentSize  = "library_preparation.average_fragment_size"
	colInputAmountValue     = "library_preparation.input_amount_value"
	colInputAmountUnit      = "library_preparation.input_amount_unit"
	colFinalYieldValue      = "library_preparation.final_yield_value"
	colFinalYieldUnit       = "library_preparation.final_yield_unit"
	colConcentrationValue   = "library_preparation.concentration_value"
	colConcentrationUnit    = "library_preparation.concentration_unit"
	colPCRCycles            = "library_preparation.pcr_cycles"
	colPCRCyclesSampleIndex = "library_preparation.pcr_cycles_for_sample_index"

	colFileName           = "sequence_file.file_core.file_name"
	colSequencingProtocol = "sequencing_protocol.protocol_core.protocol_id"
	colReadIndex          = "sequence_file.read_index"
	colLaneIndex          = "sequence_file.lane_index"
	colReadLength         = "sequence_file.read_length"
	colChecksum           = "sequence_file.file_core.checksum"
	colRunID              = "sequence_file.run_id"

	colAlterationProtocol       = "gene_expression_alteration_protocol.protocol_core.protocol_id"
	colAlterationAlleleSpecific = "gene_expression_alteration_protocol.allele_specific"
	colAlterationGeneSymbols    = "gene_expression_alteration_protocol.altered_gene_symbols"
	colAlterationGeneIDs        = "gene_expression_alteration_protocol.altered_gene_ids"
	colAlterationRegion         = "gene_expression_alteration_protocol.targeted_genomic_region"
	colAlterationExpectedType   = "gene_expression_alteration_protocol.expected_alteration_type"
	colAlterationSgRNA          = "gene_expression_alteration_protocol.crispr.sgrna_target"
	colAlterationMethod         = "gene_expression_alteration_protocol.method.text"
)

// Template rows that precede real data. Keys starting with any of these are dropped.
const sentinelFillOut = "FILL OUT INFORMATION BELOW THIS ROW"

var (
	biomaterialSentinels = []string{sentinelFillOut, "A unique ID for the biomaterial."}
	fileSentinels        = []string{
		sentinelFillOut,
		"The name of the file.",
		"Include the file extension in the file name. For example: R1.fastq.gz; codebook.json",
	}
	alterationSentinels = []string{
		sentinelFillOut,
		"A unique ID for the gene expression alteration instance..",
		"ID should have no spaces. For example: JAXPE0001_MEIS1, MSKKI119_MEF2C, NWU_AID",
	}
)
